package capfd

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// OpenSharedMemory creates an anonymous shared memory object of size bytes
// with memfd_create(2). On Linux name is only a label shown in /proc; the
// object can only be shared by passing the descriptor.
func OpenSharedMemory(name string, size int64) (*Descriptor, error) {
	if name == "" {
		name = "capfd"
	}
	fd, err := unix.MemfdCreate(strings.TrimPrefix(name, "/"), unix.MFD_CLOEXEC)
	if err != nil {
		return nil, xerrors.Errorf("memfd_create %q: %w", name, newSyscallError("memfd_create", err))
	}
	d := NewDescriptor(fd, KindSharedMemory)
	err = d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			return unix.Ftruncate(fd, size)
		})
	})
	if err != nil {
		_ = d.Release()
		return nil, wrapSyscall("ftruncate", err)
	}
	return d, nil
}

// NewEvent creates an event counter with eventfd(2). flags accepts
// unix.EFD_NONBLOCK and unix.EFD_SEMAPHORE.
func NewEvent(initval uint32, flags int) (*Descriptor, error) {
	if flags&^(unix.EFD_NONBLOCK|unix.EFD_SEMAPHORE) != 0 {
		return nil, xerrors.Errorf("eventfd: unknown flags %#x: %w", flags, ErrArgument)
	}
	fd, err := unix.Eventfd(uint(initval), flags|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, newSyscallError("eventfd", err)
	}
	return NewDescriptor(fd, KindEvent), nil
}

// OpenJail is FreeBSD only.
func OpenJail(_ string, _ bool) (*Descriptor, error) {
	return nil, xerrors.Errorf("jail_get: %w", errUnsupportedOS)
}

// OpenProcess returns a process descriptor for pid with pidfd_open(2).
func OpenProcess(pid int) (*Descriptor, error) {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return nil, xerrors.Errorf("pidfd_open %d: %w", pid, newSyscallError("pidfd_open", err))
	}
	// pidfd_open does not take O_CLOEXEC but always sets it.
	return NewDescriptor(fd, KindProcess), nil
}

// ProcessID returns the PID behind a process descriptor, read from the Pid
// line of /proc/self/fdinfo.
func (d *Descriptor) ProcessID() (int, error) {
	var pid int
	err := d.Borrow(func(fd int) error {
		f, err := Open(fmt.Sprintf("/proc/self/fdinfo/%d", fd), unix.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer f.Release()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			v, ok := strings.CutPrefix(sc.Text(), "Pid:")
			if !ok {
				continue
			}
			pid, err = strconv.Atoi(strings.TrimSpace(v))
			return err
		}
		if err := sc.Err(); err != nil {
			return err
		}
		return xerrors.Errorf("descriptor %d is not a process descriptor: %w", fd, ErrArgument)
	})
	if err != nil {
		return 0, xerrors.Errorf("process id: %w", err)
	}
	return pid, nil
}

// Kill sends sig to the process behind a process descriptor.
func (d *Descriptor) Kill(sig unix.Signal) error {
	err := d.Borrow(func(fd int) error {
		return unix.PidfdSendSignal(fd, sig, nil, 0)
	})
	return wrapSyscall("pidfd_send_signal", err)
}
