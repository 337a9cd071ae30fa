//go:build linux || freebsd || darwin

package capfd

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Socket is a Descriptor for a socket. Descriptor passing is only defined for
// connected AF_UNIX stream sockets.
type Socket struct {
	*Descriptor
}

// AsSocket views d as a Socket. Ownership stays with d.
func AsSocket(d *Descriptor) *Socket {
	return &Socket{Descriptor: d}
}

// NewSocket creates a close-on-exec socket.
func NewSocket(domain, typ, proto int) (*Socket, error) {
	var fd int
	err := ignoringEINTR(func() (err error) {
		fd, err = socketCloexec(domain, typ, proto)
		return err
	})
	if err != nil {
		return nil, newSyscallError("socket", err)
	}
	return &Socket{Descriptor: NewDescriptor(fd, KindSocket)}, nil
}

// SocketPair returns a connected pair of AF_UNIX stream sockets.
func SocketPair() (*Socket, *Socket, error) {
	var fds [2]int
	err := ignoringEINTR(func() (err error) {
		fds, err = socketpairCloexec(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		return err
	})
	if err != nil {
		return nil, nil, newSyscallError("socketpair", err)
	}
	return &Socket{Descriptor: NewDescriptor(fds[0], KindSocket)},
		&Socket{Descriptor: NewDescriptor(fds[1], KindSocket)}, nil
}

// ListenUnix binds a stream socket to path and listens on it.
func ListenUnix(path string, backlog int) (*Socket, error) {
	s, err := NewSocket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	err = s.Borrow(func(fd int) error {
		err := unix.Bind(fd, &unix.SockaddrUnix{Name: path})
		if err != nil {
			return newSyscallError("bind", err)
		}
		return newSyscallError("listen", unix.Listen(fd, backlog))
	})
	if err != nil {
		_ = s.Release()
		return nil, xerrors.Errorf("listen on %q: %w", path, err)
	}
	return s, nil
}

// DialUnix connects a new stream socket to path.
//
// connect(2) is not retried on EINTR because the connection continues in the
// background and a second call would fail with EALREADY.
func DialUnix(path string) (*Socket, error) {
	s, err := NewSocket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	err = s.Borrow(func(fd int) error {
		return newSyscallError("connect", unix.Connect(fd, &unix.SockaddrUnix{Name: path}))
	})
	if err != nil {
		_ = s.Release()
		return nil, xerrors.Errorf("dial %q: %w", path, err)
	}
	return s, nil
}

// Accept waits for a connection on a listening socket.
func (s *Socket) Accept() (*Socket, error) {
	var nfd int
	err := s.Borrow(func(fd int) error {
		return ignoringEINTR(func() (err error) {
			nfd, err = acceptCloexec(fd)
			return err
		})
	})
	if err != nil {
		return nil, wrapSyscall("accept", err)
	}
	return &Socket{Descriptor: NewDescriptor(nfd, KindSocket)}, nil
}

// Shutdown shuts down part of a full-duplex connection (unix.SHUT_RD,
// unix.SHUT_WR or unix.SHUT_RDWR).
func (s *Socket) Shutdown(how int) error {
	err := s.Borrow(func(fd int) error {
		return unix.Shutdown(fd, how)
	})
	return wrapSyscall("shutdown", err)
}
