package capfd

import "golang.org/x/sys/unix"

// isNotCapable reports whether errno was raised by Capsicum. ECAPMODE is
// returned for global namespace access from capability mode.
func isNotCapable(errno unix.Errno) bool {
	return errno == unix.ENOTCAPABLE || errno == unix.ECAPMODE
}
