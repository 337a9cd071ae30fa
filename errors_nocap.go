//go:build linux || darwin

package capfd

import "golang.org/x/sys/unix"

func isNotCapable(_ unix.Errno) bool {
	return false
}
