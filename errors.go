package capfd

import (
	"fmt"
	"runtime"

	"golang.org/x/xerrors"
)

// The error taxonomy. Every failure returned by this package matches one of
// these with xerrors.Is (or errors.Is).
var (
	// ErrInvalidHandle is returned when an operation is attempted on a released
	// descriptor, or when the kernel reports EBADF.
	ErrInvalidHandle = xerrors.New("invalid handle")
	// ErrNotCapable is returned when the capability mechanism rejected the
	// operation.
	ErrNotCapable = xerrors.New("not capable")
	// ErrResource is returned for kernel-side allocation and limit failures.
	ErrResource = xerrors.New("resource exhausted")
	// ErrProtocol is returned for malformed or under-sized ancillary data.
	ErrProtocol = xerrors.New("protocol error")
	// ErrArgument is returned when a caller-supplied value violates a
	// documented precondition.
	ErrArgument = xerrors.New("invalid argument")
	// ErrInsufficientBuffer is returned by queries whose result does not fit
	// the caller's buffer. It also matches ErrArgument.
	ErrInsufficientBuffer = xerrors.New("insufficient buffer")
	// ErrUnsupported is returned by operations the running OS does not
	// provide, such as capability limits outside FreeBSD.
	ErrUnsupported = xerrors.New("unsupported operation")

	errUnsupportedOS = xerrors.Errorf("%q is an unsupported OS for this operation: %w", runtime.GOOS, ErrUnsupported)
)

// Suppress unused variable errors. These variables are used in files that are
// not included in all builds.
var (
	_ = errUnsupportedOS
)

// BufferError reports a query whose result needs a larger buffer than the
// caller supplied.
type BufferError struct {
	Op       string
	Expected int
}

func (e *BufferError) Error() string {
	return fmt.Sprintf("%s: insufficient buffer, expected %d", e.Op, e.Expected)
}

func (e *BufferError) Is(target error) bool {
	return target == ErrInsufficientBuffer || target == ErrArgument
}
