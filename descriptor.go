//go:build linux || freebsd || darwin

package capfd

import (
	"io"
	"log"
	"runtime"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// released is the handle value stored in a Descriptor after Release or Take.
const released = -1

// Descriptor exclusively owns one kernel handle. At most one Descriptor may
// claim a given handle value at any instant; Take hands the value on and
// leaves this Descriptor released.
//
// A Descriptor is not safe for concurrent use. Callers that need to share a
// handle between goroutines should wrap it in an OpaqueRef.
type Descriptor struct {
	fd   int
	kind Kind
}

// NewDescriptor takes ownership of fd. The caller must not close fd itself
// afterwards.
//
// If the returned Descriptor is garbage collected without being released, the
// handle is closed and a warning is logged.
func NewDescriptor(fd int, kind Kind) *Descriptor {
	d := &Descriptor{fd: fd, kind: kind}
	runtime.SetFinalizer(d, finalizeDescriptor)
	return d
}

func finalizeDescriptor(d *Descriptor) {
	fd := d.fd
	if fd == released {
		return
	}
	err := d.Release()
	log.Printf("descriptor %d (%s) was finalized but was not released", fd, d.kind)
	log.Print("descriptors must be released when finished with to avoid leaked kernel resources")
	if err != nil {
		log.Printf("releasing descriptor failed: %+v", err)
	}
}

// FD returns the raw handle value, or -1 after release. The value must not be
// closed or retained past the Descriptor's lifetime; use Borrow for calls.
func (d *Descriptor) FD() int {
	return d.fd
}

// Kind returns the classification tag given at construction.
func (d *Descriptor) Kind() Kind {
	return d.kind
}

// Valid reports whether d still owns a handle.
func (d *Descriptor) Valid() bool {
	return d != nil && d.fd != released
}

// Borrow calls fn with the raw handle. The handle is only valid for the
// duration of the call.
func (d *Descriptor) Borrow(fn func(fd int) error) error {
	if !d.Valid() {
		return xerrors.Errorf("use of released descriptor: %w", ErrInvalidHandle)
	}
	err := fn(d.fd)
	// The finalizer must not close the handle while fn is using it.
	runtime.KeepAlive(d)
	return err
}

// Release closes the handle. Calling Release on a released Descriptor is a
// no-op.
func (d *Descriptor) Release() error {
	if !d.Valid() {
		return nil
	}
	fd := d.fd
	d.fd = released
	runtime.SetFinalizer(d, nil)

	// close(2) is not retried on EINTR: the handle is gone either way and a
	// retry could close a handle reused by another goroutine.
	err := unix.Close(fd)
	if err != nil && err != unix.EINTR {
		return newSyscallError("close", err)
	}
	return nil
}

// Close implements io.Closer. It is equivalent to Release.
func (d *Descriptor) Close() error {
	return d.Release()
}

// Take extracts the handle and marks d released without closing it. The
// caller becomes responsible for the returned value.
func (d *Descriptor) Take() (int, error) {
	if !d.Valid() {
		return released, xerrors.Errorf("take: %w", ErrInvalidHandle)
	}
	fd := d.fd
	d.fd = released
	runtime.SetFinalizer(d, nil)
	return fd, nil
}

// Duplicate returns a new Descriptor for the same kernel object. The new
// handle starts with the same capability rights and is close-on-exec.
func (d *Descriptor) Duplicate() (*Descriptor, error) {
	var nfd int
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() (err error) {
			nfd, err = unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
			return err
		})
	})
	if err != nil {
		return nil, wrapSyscall("dup", err)
	}
	return NewDescriptor(nfd, d.kind), nil
}

// Stat returns fstat(2) for the handle.
func (d *Descriptor) Stat() (unix.Stat_t, error) {
	var st unix.Stat_t
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			return unix.Fstat(fd, &st)
		})
	})
	return st, wrapSyscall("fstat", err)
}

// Flags returns the file status flags (F_GETFL).
func (d *Descriptor) Flags() (int, error) {
	return d.fcntl("fcntl(F_GETFL)", unix.F_GETFL, 0)
}

// SetFlags replaces the file status flags (F_SETFL).
func (d *Descriptor) SetFlags(flags int) error {
	_, err := d.fcntl("fcntl(F_SETFL)", unix.F_SETFL, flags)
	return err
}

// CloseOnExec reports whether FD_CLOEXEC is set.
func (d *Descriptor) CloseOnExec() (bool, error) {
	flags, err := d.fcntl("fcntl(F_GETFD)", unix.F_GETFD, 0)
	if err != nil {
		return false, err
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// SetCloseOnExec sets or clears FD_CLOEXEC.
func (d *Descriptor) SetCloseOnExec(on bool) error {
	flags, err := d.fcntl("fcntl(F_GETFD)", unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	if on {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	_, err = d.fcntl("fcntl(F_SETFD)", unix.F_SETFD, flags)
	return err
}

// SetNonblock sets or clears O_NONBLOCK.
func (d *Descriptor) SetNonblock(on bool) error {
	flags, err := d.Flags()
	if err != nil {
		return err
	}
	if on {
		flags |= unix.O_NONBLOCK
	} else {
		flags &^= unix.O_NONBLOCK
	}
	return d.SetFlags(flags)
}

func (d *Descriptor) fcntl(op string, cmd, arg int) (int, error) {
	var ret int
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() (err error) {
			ret, err = unix.FcntlInt(uintptr(fd), cmd, arg)
			return err
		})
	})
	return ret, wrapSyscall(op, err)
}

// Read implements io.Reader.
func (d *Descriptor) Read(p []byte) (int, error) {
	var n int
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() (err error) {
			n, err = unix.Read(fd, p)
			return err
		})
	})
	if err != nil {
		return 0, wrapSyscall("read", err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer. Short writes from the kernel are continued until
// p is exhausted or an error occurs.
func (d *Descriptor) Write(p []byte) (int, error) {
	var written int
	err := d.Borrow(func(fd int) error {
		for written < len(p) {
			var n int
			err := ignoringEINTR(func() (err error) {
				n, err = unix.Write(fd, p[written:])
				return err
			})
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	return written, wrapSyscall("write", err)
}

var (
	_ io.ReadWriteCloser = &Descriptor{}
)

// ignoringEINTR retries fn until it returns something other than EINTR.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

// wrapSyscall converts a raw errno into a *SyscallError and leaves errors that
// already carry context (such as a released handle) alone.
func wrapSyscall(op string, err error) error {
	if errno, ok := err.(unix.Errno); ok {
		return &SyscallError{Op: op, Errno: errno}
	}
	return err
}
