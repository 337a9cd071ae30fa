package capfd

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// Right is one Capsicum right, encoded as in <sys/capsicum.h>: bits 57-61
// select the word of cap_rights_t and the low bits select the right within it.
// Some rights (RightSeek, RightPread, RightKqueue, ...) are unions of others.
type Right uint64

const (
	rightWord0    = 1 << 57
	rightWord1    = 1 << 58
	rightBitsMask = 0x01ffffffffffffff
)

const (
	RightRead           Right = rightWord0 | 0x0000000000000001
	RightWrite          Right = rightWord0 | 0x0000000000000002
	RightSeekTell       Right = rightWord0 | 0x0000000000000004
	RightSeek           Right = RightSeekTell | 0x0000000000000008
	RightPread          Right = RightSeek | RightRead
	RightPwrite         Right = RightSeek | RightWrite
	RightMmap           Right = rightWord0 | 0x0000000000000010
	RightCreate         Right = rightWord0 | 0x0000000000000040
	RightFexecve        Right = rightWord0 | 0x0000000000000080
	RightFsync          Right = rightWord0 | 0x0000000000000100
	RightFtruncate      Right = rightWord0 | 0x0000000000000200
	RightLookup         Right = rightWord0 | 0x0000000000000400
	RightFchdir         Right = rightWord0 | 0x0000000000000800
	RightFchflags       Right = rightWord0 | 0x0000000000001000
	RightFchmod         Right = rightWord0 | 0x0000000000002000
	RightFchown         Right = rightWord0 | 0x0000000000004000
	RightFcntl          Right = rightWord0 | 0x0000000000008000
	RightFlock          Right = rightWord0 | 0x0000000000010000
	RightFpathconf      Right = rightWord0 | 0x0000000000020000
	RightFsck           Right = rightWord0 | 0x0000000000040000
	RightFstat          Right = rightWord0 | 0x0000000000080000
	RightFstatfs        Right = rightWord0 | 0x0000000000100000
	RightFutimes        Right = rightWord0 | 0x0000000000200000
	RightLinkatTarget   Right = rightWord0 | 0x0000000000400000
	RightMkdirat        Right = rightWord0 | 0x0000000000800000
	RightMkfifoat       Right = rightWord0 | 0x0000000001000000
	RightMknodat        Right = rightWord0 | 0x0000000002000000
	RightRenameatSource Right = rightWord0 | 0x0000000004000000
	RightSymlinkat      Right = rightWord0 | 0x0000000008000000
	RightUnlinkat       Right = rightWord0 | 0x0000000010000000
	RightAccept         Right = rightWord0 | 0x0000000020000000
	RightBind           Right = rightWord0 | 0x0000000040000000
	RightConnect        Right = rightWord0 | 0x0000000080000000
	RightGetpeername    Right = rightWord0 | 0x0000000100000000
	RightGetsockname    Right = rightWord0 | 0x0000000200000000
	RightGetsockopt     Right = rightWord0 | 0x0000000400000000
	RightListen         Right = rightWord0 | 0x0000000800000000
	RightPeeloff        Right = rightWord0 | 0x0000001000000000
	RightSetsockopt     Right = rightWord0 | 0x0000002000000000
	RightShutdown       Right = rightWord0 | 0x0000004000000000
	RightBindat         Right = rightWord0 | 0x0000008000000000
	RightConnectat      Right = rightWord0 | 0x0000010000000000
	RightLinkatSource   Right = rightWord0 | 0x0000020000000000
	RightRenameatTarget Right = rightWord0 | 0x0000040000000000
	RightMacGet         Right = rightWord1 | 0x0000000000000001
	RightMacSet         Right = rightWord1 | 0x0000000000000002
	RightSemGetvalue    Right = rightWord1 | 0x0000000000000004
	RightSemPost        Right = rightWord1 | 0x0000000000000008
	RightSemWait        Right = rightWord1 | 0x0000000000000010
	RightEvent          Right = rightWord1 | 0x0000000000000020
	RightKqueueEvent    Right = rightWord1 | 0x0000000000000040
	RightIoctl          Right = rightWord1 | 0x0000000000000080
	RightTtyhook        Right = rightWord1 | 0x0000000000000100
	RightPdgetpid       Right = rightWord1 | 0x0000000000000200
	RightPdwait         Right = rightWord1 | 0x0000000000000400
	RightPdkill         Right = rightWord1 | 0x0000000000000800
	RightExtattrDelete  Right = rightWord1 | 0x0000000000001000
	RightExtattrGet     Right = rightWord1 | 0x0000000000002000
	RightExtattrList    Right = rightWord1 | 0x0000000000004000
	RightExtattrSet     Right = rightWord1 | 0x0000000000008000
	RightACLCheck       Right = rightWord1 | 0x0000000000010000
	RightACLDelete      Right = rightWord1 | 0x0000000000020000
	RightACLGet         Right = rightWord1 | 0x0000000000040000
	RightACLSet         Right = rightWord1 | 0x0000000000080000
	RightKqueueChange   Right = rightWord1 | 0x0000000000100000
	RightKqueue         Right = RightKqueueEvent | RightKqueueChange
)

var rightNames = map[string]Right{
	"read":            RightRead,
	"write":           RightWrite,
	"seek_tell":       RightSeekTell,
	"seek":            RightSeek,
	"pread":           RightPread,
	"pwrite":          RightPwrite,
	"mmap":            RightMmap,
	"create":          RightCreate,
	"fexecve":         RightFexecve,
	"fsync":           RightFsync,
	"ftruncate":       RightFtruncate,
	"lookup":          RightLookup,
	"fchdir":          RightFchdir,
	"fchflags":        RightFchflags,
	"fchmod":          RightFchmod,
	"fchown":          RightFchown,
	"fcntl":           RightFcntl,
	"flock":           RightFlock,
	"fpathconf":       RightFpathconf,
	"fsck":            RightFsck,
	"fstat":           RightFstat,
	"fstatfs":         RightFstatfs,
	"futimes":         RightFutimes,
	"linkat_target":   RightLinkatTarget,
	"mkdirat":         RightMkdirat,
	"mkfifoat":        RightMkfifoat,
	"mknodat":         RightMknodat,
	"renameat_source": RightRenameatSource,
	"symlinkat":       RightSymlinkat,
	"unlinkat":        RightUnlinkat,
	"accept":          RightAccept,
	"bind":            RightBind,
	"connect":         RightConnect,
	"getpeername":     RightGetpeername,
	"getsockname":     RightGetsockname,
	"getsockopt":      RightGetsockopt,
	"listen":          RightListen,
	"peeloff":         RightPeeloff,
	"setsockopt":      RightSetsockopt,
	"shutdown":        RightShutdown,
	"bindat":          RightBindat,
	"connectat":       RightConnectat,
	"linkat_source":   RightLinkatSource,
	"renameat_target": RightRenameatTarget,
	"mac_get":         RightMacGet,
	"mac_set":         RightMacSet,
	"sem_getvalue":    RightSemGetvalue,
	"sem_post":        RightSemPost,
	"sem_wait":        RightSemWait,
	"event":           RightEvent,
	"kqueue_event":    RightKqueueEvent,
	"ioctl":           RightIoctl,
	"ttyhook":         RightTtyhook,
	"pdgetpid":        RightPdgetpid,
	"pdwait":          RightPdwait,
	"pdkill":          RightPdkill,
	"extattr_delete":  RightExtattrDelete,
	"extattr_get":     RightExtattrGet,
	"extattr_list":    RightExtattrList,
	"extattr_set":     RightExtattrSet,
	"acl_check":       RightACLCheck,
	"acl_delete":      RightACLDelete,
	"acl_get":         RightACLGet,
	"acl_set":         RightACLSet,
	"kqueue_change":   RightKqueueChange,
	"kqueue":          RightKqueue,
}

// ParseRight looks up a right by its lower-case name without the CAP_ prefix,
// e.g. "read" or "kqueue_event".
func ParseRight(name string) (Right, error) {
	r, ok := rightNames[strings.ToLower(strings.TrimPrefix(strings.ToUpper(name), "CAP_"))]
	if !ok {
		return 0, xerrors.Errorf("unknown capability right %q: %w", name, ErrArgument)
	}
	return r, nil
}

// ParseRightNames builds a rights set from names accepted by ParseRight.
func ParseRightNames(names []string) (*Rights, error) {
	rights := NewRights()
	for _, name := range names {
		r, err := ParseRight(name)
		if err != nil {
			return nil, err
		}
		rights.Set(r)
	}
	return rights, nil
}

func (r Right) word() int {
	switch (uint64(r) >> 57) & 0x1f {
	case 1:
		return 0
	case 2:
		return 1
	}
	return -1
}

func (r Right) String() string {
	for name, v := range rightNames {
		if v == r {
			return name
		}
	}
	return fmt.Sprintf("right(%#x)", uint64(r))
}

// Rights is a set of capability rights with the layout of a version 0
// cap_rights_t. The zero value is not valid; use NewRights.
type Rights struct {
	words [2]uint64
}

// NewRights returns a set holding exactly rights.
func NewRights(rights ...Right) *Rights {
	r := &Rights{words: [2]uint64{rightWord0, rightWord1}}
	return r.Set(rights...)
}

func mustWord(right Right) int {
	i := right.word()
	if i < 0 {
		panic(xerrors.Errorf("capfd: invalid capability right %#x", uint64(right)))
	}
	return i
}

// Set adds rights to r and returns r.
func (r *Rights) Set(rights ...Right) *Rights {
	for _, right := range rights {
		r.words[mustWord(right)] |= uint64(right)
	}
	return r
}

// Clear removes rights from r and returns r. Clearing a union right clears
// every right it contains.
func (r *Rights) Clear(rights ...Right) *Rights {
	for _, right := range rights {
		r.words[mustWord(right)] &^= uint64(right) & rightBitsMask
	}
	return r
}

// IsSet reports whether every one of rights is in r.
func (r *Rights) IsSet(rights ...Right) bool {
	for _, right := range rights {
		if r.words[mustWord(right)]&uint64(right) != uint64(right) {
			return false
		}
	}
	return true
}

// Contains reports whether little is a subset of r.
func (r *Rights) Contains(little *Rights) bool {
	for i := range r.words {
		if r.words[i]&little.words[i] != little.words[i] {
			return false
		}
	}
	return true
}

// Merge adds every right in src to r and returns r.
func (r *Rights) Merge(src *Rights) *Rights {
	for i := range r.words {
		r.words[i] |= src.words[i]
	}
	return r
}

// Remove removes every right in src from r and returns r.
func (r *Rights) Remove(src *Rights) *Rights {
	for i := range r.words {
		r.words[i] &^= src.words[i] & rightBitsMask
	}
	return r
}

// Intersect keeps only the rights also present in other and returns r. Use it
// to compute a narrower set that Limit will accept for an already limited
// handle.
func (r *Rights) Intersect(other *Rights) *Rights {
	for i := range r.words {
		r.words[i] &= other.words[i] | ^uint64(rightBitsMask)
	}
	return r
}

// Valid reports whether r has the version 0 layout.
func (r *Rights) Valid() bool {
	return r.words[0]&^rightBitsMask == rightWord0 &&
		r.words[1]&^rightBitsMask == rightWord1
}

// Equal reports whether r and other hold the same rights.
func (r *Rights) Equal(other *Rights) bool {
	return r.words == other.words
}

// Rights lists the named single rights in r, sorted by name. Union rights such
// as "seek" are not listed; their components are.
func (r *Rights) Rights() []Right {
	var out []Right
	for _, right := range rightNames {
		if isUnionRight(right) {
			continue
		}
		if r.IsSet(right) {
			out = append(out, right)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func isUnionRight(right Right) bool {
	bits := uint64(right) & rightBitsMask
	return bits&(bits-1) != 0
}

func (r *Rights) String() string {
	rights := r.Rights()
	names := make([]string, len(rights))
	for i, right := range rights {
		names[i] = right.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// FcntlRights is the set of fcntl(2) commands a handle may still use after
// LimitFcntls, as a CAP_FCNTL_* bitmask.
type FcntlRights uint32

const (
	FcntlGetfl  FcntlRights = 1 << 3
	FcntlSetfl  FcntlRights = 1 << 4
	FcntlGetown FcntlRights = 1 << 5
	FcntlSetown FcntlRights = 1 << 6
	FcntlAll    FcntlRights = FcntlGetfl | FcntlSetfl | FcntlGetown | FcntlSetown
)

var fcntlNames = []struct {
	name  string
	right FcntlRights
}{
	{"getfl", FcntlGetfl},
	{"setfl", FcntlSetfl},
	{"getown", FcntlGetown},
	{"setown", FcntlSetown},
}

// ParseFcntlRights builds a mask from command names such as "getfl" or
// "F_SETFL".
func ParseFcntlRights(names []string) (FcntlRights, error) {
	var mask FcntlRights
outer:
	for _, name := range names {
		n := strings.ToLower(strings.TrimPrefix(strings.ToUpper(name), "F_"))
		for _, f := range fcntlNames {
			if f.name == n {
				mask |= f.right
				continue outer
			}
		}
		return 0, xerrors.Errorf("unknown fcntl command %q: %w", name, ErrArgument)
	}
	return mask, nil
}

func (f FcntlRights) String() string {
	var names []string
	for _, n := range fcntlNames {
		if f&n.right != 0 {
			names = append(names, n.name)
		}
	}
	if rest := f &^ FcntlAll; rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint32(rest)))
	}
	return "{" + strings.Join(names, ",") + "}"
}

// IoctlLimits is the result of an ioctl limit query. All is true when the
// handle has never been limited, in which case Cmds is nil. A limited handle
// with an empty Cmds allows no ioctls at all.
type IoctlLimits struct {
	All  bool
	Cmds []uint64
}

// ioctlsAll is CAP_IOCTLS_ALL (SSIZE_MAX), returned by cap_ioctls_get for a
// handle without an ioctl limit.
const ioctlsAll = math.MaxInt

// ioctlQueryResult interprets the return value n of cap_ioctls_get called with
// a buffer of len(buf) entries.
func ioctlQueryResult(n int, buf []uint64) (IoctlLimits, error) {
	switch {
	case n == ioctlsAll:
		return IoctlLimits{All: true}, nil
	case n < 0:
		return IoctlLimits{}, xerrors.Errorf("cap_ioctls_get returned %d: %w", n, ErrProtocol)
	case n > len(buf):
		return IoctlLimits{}, &BufferError{Op: "cap_ioctls_get", Expected: n}
	}
	cmds := make([]uint64, n)
	copy(cmds, buf[:n])
	return IoctlLimits{Cmds: cmds}, nil
}
