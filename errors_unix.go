//go:build linux || freebsd || darwin

package capfd

import (
	"fmt"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// SyscallError is the typed error for a failed kernel call. It carries the OS
// error code and unwraps to it.
type SyscallError struct {
	Op    string
	Errno unix.Errno
}

func newSyscallError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok {
		return &SyscallError{Op: op, Errno: errno}
	}
	return xerrors.Errorf("%s: %w", op, err)
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Errno)
}

func (e *SyscallError) Unwrap() error {
	return e.Errno
}

// Is maps the OS error code onto the package taxonomy.
func (e *SyscallError) Is(target error) bool {
	switch target {
	case ErrInvalidHandle:
		return e.Errno == unix.EBADF
	case ErrNotCapable:
		return isNotCapable(e.Errno)
	case ErrResource:
		switch e.Errno {
		case unix.EMFILE, unix.ENFILE, unix.ENOMEM, unix.ENOSPC, unix.ENOBUFS:
			return true
		}
	case ErrArgument:
		return e.Errno == unix.EINVAL
	}
	return false
}
