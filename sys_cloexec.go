//go:build linux || freebsd

package capfd

import "golang.org/x/sys/unix"

const recvmsgFlags = unix.MSG_CMSG_CLOEXEC

func pipeCloexec(p []int) error {
	return unix.Pipe2(p, unix.O_CLOEXEC)
}

func socketCloexec(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ|unix.SOCK_CLOEXEC, proto)
}

func socketpairCloexec(domain, typ, proto int) ([2]int, error) {
	return unix.Socketpair(domain, typ|unix.SOCK_CLOEXEC, proto)
}

func acceptCloexec(fd int) (int, error) {
	nfd, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
	return nfd, err
}

// setCloexecReceived is a no-op: recvmsg already applied MSG_CMSG_CLOEXEC.
func setCloexecReceived(_ []int) {}
