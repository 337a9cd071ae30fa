package capfd

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Limit narrows the handle to rights with cap_rights_limit(2). Limits only
// ever shrink: a request that adds back rights already removed fails with
// ErrNotCapable and leaves the retained rights unchanged. Duplicates made
// before the call keep their own rights.
func (d *Descriptor) Limit(rights *Rights) error {
	if rights == nil || !rights.Valid() {
		return xerrors.Errorf("cap_rights_limit: malformed rights set: %w", ErrArgument)
	}
	cr := unix.CapRights{Rights: rights.words}
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			return unix.CapRightsLimit(uintptr(fd), &cr)
		})
	})
	return wrapSyscall("cap_rights_limit", err)
}

// RightsGet returns the rights currently retained by the handle.
func (d *Descriptor) RightsGet() (*Rights, error) {
	var cr *unix.CapRights
	err := d.Borrow(func(fd int) (err error) {
		cr, err = unix.CapRightsGet(uintptr(fd))
		return err
	})
	if err != nil {
		return nil, wrapSyscall("cap_rights_get", err)
	}
	return &Rights{words: cr.Rights}, nil
}

// LimitIoctls restricts the ioctl(2) commands the handle may use to cmds. An
// empty cmds allows none. Like Limit, this can only narrow an existing list.
func (d *Descriptor) LimitIoctls(cmds []uint64) error {
	buf := make([]uintptr, len(cmds))
	for i, cmd := range cmds {
		buf[i] = uintptr(cmd)
	}
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			_, _, errno := unix.Syscall(unix.SYS_CAP_IOCTLS_LIMIT, uintptr(fd), uintptr(ptr), uintptr(len(buf)))
			return errnoErr(errno)
		})
	})
	return wrapSyscall("cap_ioctls_limit", err)
}

// Ioctls returns the ioctl commands the handle still allows. max is the
// caller's buffer size: if more than max commands are retained the call fails
// with a *BufferError carrying the real count rather than returning a
// truncated list. A handle with no ioctl limit reports All.
func (d *Descriptor) Ioctls(max int) (IoctlLimits, error) {
	if max < 0 {
		return IoctlLimits{}, xerrors.Errorf("cap_ioctls_get: negative buffer size %d: %w", max, ErrArgument)
	}
	buf := make([]uintptr, max)
	var ptr unsafe.Pointer
	if max > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	var n int
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			r1, _, errno := unix.Syscall(unix.SYS_CAP_IOCTLS_GET, uintptr(fd), uintptr(ptr), uintptr(max))
			n = int(r1)
			return errnoErr(errno)
		})
	})
	if err != nil {
		return IoctlLimits{}, wrapSyscall("cap_ioctls_get", err)
	}

	cmds := make([]uint64, max)
	for i, cmd := range buf {
		cmds[i] = uint64(cmd)
	}
	return ioctlQueryResult(n, cmds)
}

// LimitFcntls restricts the fcntl(2) commands the handle may use. It only
// matters while the handle also retains RightFcntl.
func (d *Descriptor) LimitFcntls(rights FcntlRights) error {
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			_, _, errno := unix.Syscall(unix.SYS_CAP_FCNTLS_LIMIT, uintptr(fd), uintptr(rights), 0)
			return errnoErr(errno)
		})
	})
	return wrapSyscall("cap_fcntls_limit", err)
}

// Fcntls returns the fcntl commands the handle still allows. FcntlAll means
// the handle was never limited.
func (d *Descriptor) Fcntls() (FcntlRights, error) {
	var rights uint32
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			_, _, errno := unix.Syscall(unix.SYS_CAP_FCNTLS_GET, uintptr(fd), uintptr(unsafe.Pointer(&rights)), 0)
			return errnoErr(errno)
		})
	})
	if err != nil {
		return 0, wrapSyscall("cap_fcntls_get", err)
	}
	return FcntlRights(rights), nil
}

// EnterCapabilityMode puts the whole process into capability mode with
// cap_enter(2). There is no way back: global namespaces (paths, PIDs) become
// unreachable and only existing handles can be used.
func EnterCapabilityMode() error {
	return newSyscallError("cap_enter", unix.CapEnter())
}

// InCapabilityMode reports whether the process is in capability mode.
func InCapabilityMode() (bool, error) {
	var mode uint32
	_, _, errno := unix.Syscall(unix.SYS_CAP_GETMODE, uintptr(unsafe.Pointer(&mode)), 0, 0)
	if errno != 0 {
		return false, newSyscallError("cap_getmode", errno)
	}
	return mode != 0, nil
}

// errnoErr converts a raw Syscall errno into an error, or nil for 0.
func errnoErr(errno unix.Errno) error {
	if errno == 0 {
		return nil
	}
	return errno
}
