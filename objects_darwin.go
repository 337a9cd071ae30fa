package capfd

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Darwin has no anonymous shared memory descriptors, event counters, jails or
// process descriptors.

func OpenSharedMemory(_ string, _ int64) (*Descriptor, error) {
	return nil, xerrors.Errorf("shm_open: %w", errUnsupportedOS)
}

func NewEvent(_ uint32, _ int) (*Descriptor, error) {
	return nil, xerrors.Errorf("eventfd: %w", errUnsupportedOS)
}

func OpenJail(_ string, _ bool) (*Descriptor, error) {
	return nil, xerrors.Errorf("jail_get: %w", errUnsupportedOS)
}

func (d *Descriptor) ProcessID() (int, error) {
	return 0, xerrors.Errorf("pdgetpid: %w", errUnsupportedOS)
}

func (d *Descriptor) Kill(_ unix.Signal) error {
	return xerrors.Errorf("pdkill: %w", errUnsupportedOS)
}
