//go:build linux || freebsd || darwin

package capfd

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Open opens path and returns a Descriptor of KindFile. O_CLOEXEC is always
// added to flags.
func Open(path string, flags int, mode uint32) (*Descriptor, error) {
	return openKind(path, flags, mode, KindFile)
}

// OpenDirectory opens path read-only as a directory.
func OpenDirectory(path string) (*Descriptor, error) {
	return openKind(path, unix.O_RDONLY|unix.O_DIRECTORY, 0, KindDirectory)
}

// OpenDevice opens a device node such as /dev/null.
func OpenDevice(path string, flags int) (*Descriptor, error) {
	return openKind(path, flags, 0, KindDevice)
}

func openKind(path string, flags int, mode uint32, kind Kind) (*Descriptor, error) {
	var fd int
	err := ignoringEINTR(func() (err error) {
		fd, err = unix.Open(path, flags|unix.O_CLOEXEC, mode)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("open %q: %w", path, newSyscallError("open", err))
	}
	return NewDescriptor(fd, kind), nil
}

// OpenAt opens path relative to dir. In capability mode this is the only way
// to reach the filesystem, and dir must carry CAP_LOOKUP.
func OpenAt(dir *Descriptor, path string, flags int, mode uint32) (*Descriptor, error) {
	kind := KindFile
	if flags&unix.O_DIRECTORY != 0 {
		kind = KindDirectory
	}
	var fd int
	err := dir.Borrow(func(dirfd int) error {
		return ignoringEINTR(func() (err error) {
			fd, err = unix.Openat(dirfd, path, flags|unix.O_CLOEXEC, mode)
			return err
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("openat %q: %w", path, wrapSyscall("openat", err))
	}
	return NewDescriptor(fd, kind), nil
}

// Pipe returns the read and write ends of a new pipe.
func Pipe() (r *Descriptor, w *Descriptor, err error) {
	var p [2]int
	err = pipeCloexec(p[:])
	if err != nil {
		return nil, nil, newSyscallError("pipe", err)
	}
	return NewDescriptor(p[0], KindPipe), NewDescriptor(p[1], KindPipe), nil
}

// KindOf classifies a handle by the file type in st.
func KindOf(st *unix.Stat_t) Kind {
	switch uint32(st.Mode) & unix.S_IFMT {
	case unix.S_IFREG:
		return KindFile
	case unix.S_IFDIR:
		return KindDirectory
	case unix.S_IFCHR, unix.S_IFBLK:
		return KindDevice
	case unix.S_IFSOCK:
		return KindSocket
	case unix.S_IFIFO:
		return KindPipe
	}
	return KindUnknown
}
