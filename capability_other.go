//go:build linux || darwin

package capfd

import "golang.org/x/xerrors"

// Capsicum is FreeBSD only. On other systems every capability call fails with
// an error wrapping errUnsupportedOS, so callers can tell "not narrowed"
// apart from "narrowing failed".

func (d *Descriptor) Limit(_ *Rights) error {
	return xerrors.Errorf("cap_rights_limit: %w", errUnsupportedOS)
}

func (d *Descriptor) RightsGet() (*Rights, error) {
	return nil, xerrors.Errorf("cap_rights_get: %w", errUnsupportedOS)
}

func (d *Descriptor) LimitIoctls(_ []uint64) error {
	return xerrors.Errorf("cap_ioctls_limit: %w", errUnsupportedOS)
}

func (d *Descriptor) Ioctls(_ int) (IoctlLimits, error) {
	return IoctlLimits{}, xerrors.Errorf("cap_ioctls_get: %w", errUnsupportedOS)
}

func (d *Descriptor) LimitFcntls(_ FcntlRights) error {
	return xerrors.Errorf("cap_fcntls_limit: %w", errUnsupportedOS)
}

func (d *Descriptor) Fcntls() (FcntlRights, error) {
	return 0, xerrors.Errorf("cap_fcntls_get: %w", errUnsupportedOS)
}

func EnterCapabilityMode() error {
	return xerrors.Errorf("cap_enter: %w", errUnsupportedOS)
}

func InCapabilityMode() (bool, error) {
	return false, nil
}
