//go:build linux || freebsd || darwin

package capfd

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// sizeofHandle is the wire size of one handle in an SCM_RIGHTS payload.
const sizeofHandle = 4

var (
	// cmsgHeaderSpace is align(sizeof(struct cmsghdr)); the handle array
	// starts at this offset within a control message.
	cmsgHeaderSpace = unix.CmsgSpace(0)
	// cmsgAlignment is the platform's control message alignment (pointer size
	// on Linux and FreeBSD, 4 bytes on Darwin).
	cmsgAlignment = unix.CmsgSpace(1) - unix.CmsgSpace(0)
)

func cmsgAlign(n int) int {
	return (n + cmsgAlignment - 1) &^ (cmsgAlignment - 1)
}

// RightsSpace returns the control buffer size needed to carry n handles:
// align(header) + align(n * 4). A smaller buffer makes the kernel truncate the
// handle array.
func RightsSpace(n int) int {
	return cmsgHeaderSpace + cmsgAlign(n*sizeofHandle)
}

// EncodeRights builds a control buffer holding a single SOL_SOCKET/SCM_RIGHTS
// message for fds. It returns nil when fds is empty.
func EncodeRights(fds []int) []byte {
	if len(fds) == 0 {
		return nil
	}
	b := make([]byte, RightsSpace(len(fds)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = unix.SOL_SOCKET
	h.Type = unix.SCM_RIGHTS
	h.SetLen(unix.CmsgLen(len(fds) * sizeofHandle))

	data := b[cmsgHeaderSpace:]
	for i, fd := range fds {
		NativeEndian.PutUint32(data[i*sizeofHandle:], uint32(int32(fd)))
	}
	return b
}

// ParseRights walks every control message in oob and returns the handles
// carried by SCM_RIGHTS messages. Each message is bounds-checked against
// len(oob) before any handle is read from it. Messages of other types are
// skipped.
//
// On a protocol error the handles parsed so far are still returned so that
// the caller can close them.
func ParseRights(oob []byte) ([]int, error) {
	var fds []int
	for off := 0; off < len(oob); {
		if len(oob)-off < unix.SizeofCmsghdr {
			return fds, xerrors.Errorf("control message header at offset %d: %d bytes left, need %d: %w",
				off, len(oob)-off, unix.SizeofCmsghdr, ErrProtocol)
		}
		var h unix.Cmsghdr
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&h)), unix.SizeofCmsghdr), oob[off:])

		msgLen := int(h.Len)
		if msgLen < cmsgHeaderSpace || msgLen > len(oob)-off {
			return fds, xerrors.Errorf("control message at offset %d reports length %d, control buffer is %d bytes: %w",
				off, msgLen, len(oob), ErrProtocol)
		}

		if h.Level == unix.SOL_SOCKET && h.Type == unix.SCM_RIGHTS {
			data := oob[off+cmsgHeaderSpace : off+msgLen]
			if len(data)%sizeofHandle != 0 {
				return fds, xerrors.Errorf("SCM_RIGHTS payload of %d bytes is not a whole number of handles: %w",
					len(data), ErrProtocol)
			}
			for i := 0; i < len(data); i += sizeofHandle {
				fds = append(fds, int(int32(NativeEndian.Uint32(data[i:]))))
			}
		}

		off += cmsgAlign(msgLen)
	}
	return fds, nil
}
