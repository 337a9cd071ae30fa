package capfd

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Syscall numbers and flags from FreeBSD 13+ that golang.org/x/sys does not
// carry yet.
const (
	sysShmOpen2  = 571
	sysSpecialFD = 577

	specialFDEventFD = 1

	efdSemaphore = 0x1

	jailGetDesc = 0x40
	jailOwnDesc = 0x80
)

// shmAnon is SHM_ANON, the path value that asks shm_open2 for an anonymous
// object.
const shmAnon = 1

// OpenSharedMemory creates a POSIX shared memory object of size bytes. An
// empty name creates an anonymous object that can only be shared by passing
// the descriptor; otherwise name must start with "/" and the object is created
// if it does not exist.
func OpenSharedMemory(name string, size int64) (*Descriptor, error) {
	var (
		r1    uintptr
		errno unix.Errno
	)
	if name == "" {
		r1, _, errno = unix.Syscall6(sysShmOpen2, shmAnon, unix.O_RDWR|unix.O_CLOEXEC, 0o600, 0, 0, 0)
	} else {
		path, err := unix.BytePtrFromString(name)
		if err != nil {
			return nil, xerrors.Errorf("shm_open2 %q: %w", name, ErrArgument)
		}
		r1, _, errno = unix.Syscall6(sysShmOpen2, uintptr(unsafe.Pointer(path)), unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o600, 0, 0, 0)
	}
	if errno != 0 {
		return nil, xerrors.Errorf("shm_open2 %q: %w", name, newSyscallError("shm_open2", errno))
	}
	d := NewDescriptor(int(r1), KindSharedMemory)
	if err := truncate(d, size); err != nil {
		_ = d.Release()
		return nil, err
	}
	return d, nil
}

func truncate(d *Descriptor, size int64) error {
	err := d.Borrow(func(fd int) error {
		return ignoringEINTR(func() error {
			return unix.Ftruncate(fd, size)
		})
	})
	return wrapSyscall("ftruncate", err)
}

// NewEvent creates an eventfd-style event counter with __specialfd(2).
// flags accepts unix.O_NONBLOCK and semaphore mode (0x1).
func NewEvent(initval uint32, flags int) (*Descriptor, error) {
	if flags&^(unix.O_NONBLOCK|efdSemaphore) != 0 {
		return nil, xerrors.Errorf("eventfd: unknown flags %#x: %w", flags, ErrArgument)
	}
	args := struct {
		initval uint32
		flags   int32
	}{initval, int32(flags | unix.O_CLOEXEC)}
	r1, _, errno := unix.Syscall(sysSpecialFD, specialFDEventFD, uintptr(unsafe.Pointer(&args)), unsafe.Sizeof(args))
	if errno != 0 {
		return nil, newSyscallError("eventfd", errno)
	}
	return NewDescriptor(int(r1), KindEvent), nil
}

// OpenJail returns a jail descriptor for the jail called name. If owning is
// set, releasing the descriptor removes the jail.
func OpenJail(name string, owning bool) (*Descriptor, error) {
	d, err := jailDesc("name", append([]byte(name), 0), owning)
	if err != nil {
		return nil, xerrors.Errorf("jail %q: %w", name, err)
	}
	return d, nil
}

// OpenJailID is OpenJail by numeric jail ID.
func OpenJailID(jid int32, owning bool) (*Descriptor, error) {
	d, err := jailDesc("jid", unsafe.Slice((*byte)(unsafe.Pointer(&jid)), 4), owning)
	if err != nil {
		return nil, xerrors.Errorf("jail %d: %w", jid, err)
	}
	return d, nil
}

func jailDesc(key string, value []byte, owning bool) (*Descriptor, error) {
	desc := int32(-1)
	errmsg := make([]byte, 256)

	var iov []unix.Iovec
	add := func(b []byte) {
		v := unix.Iovec{Base: &b[0]}
		v.SetLen(len(b))
		iov = append(iov, v)
	}
	add(append([]byte(key), 0))
	add(value)
	add([]byte("desc\x00"))
	add(unsafe.Slice((*byte)(unsafe.Pointer(&desc)), 4))
	add([]byte("errmsg\x00"))
	add(errmsg)

	flags := uintptr(jailGetDesc)
	kind := KindJail
	if owning {
		flags |= jailOwnDesc
		kind = kind.WithOwning()
	}
	_, _, errno := unix.Syscall(unix.SYS_JAIL_GET, uintptr(unsafe.Pointer(&iov[0])), uintptr(len(iov)), flags)
	runtime.KeepAlive(iov)
	if errno != 0 {
		err := newSyscallError("jail_get", errno)
		if msg := unix.ByteSliceToString(errmsg); msg != "" {
			return nil, xerrors.Errorf("%s: %w", msg, err)
		}
		return nil, err
	}
	return NewDescriptor(int(desc), kind), nil
}

// ProcessID returns the PID behind a process descriptor (pdgetpid(2)).
func (d *Descriptor) ProcessID() (int, error) {
	var pid int32
	err := d.Borrow(func(fd int) error {
		_, _, errno := unix.Syscall(unix.SYS_PDGETPID, uintptr(fd), uintptr(unsafe.Pointer(&pid)), 0)
		return errnoErr(errno)
	})
	if err != nil {
		return 0, wrapSyscall("pdgetpid", err)
	}
	return int(pid), nil
}

// Kill sends sig to the process behind a process descriptor (pdkill(2)).
func (d *Descriptor) Kill(sig unix.Signal) error {
	err := d.Borrow(func(fd int) error {
		_, _, errno := unix.Syscall(unix.SYS_PDKILL, uintptr(fd), uintptr(sig), 0)
		return errnoErr(errno)
	})
	return wrapSyscall("pdkill", err)
}
