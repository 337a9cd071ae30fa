//go:build linux || freebsd || darwin

package main

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"cdr.dev/capfd"
)

// policy lists the descriptors handed to a child process, in order starting at
// descriptor 3.
//
//	files:
//	  - path: /var/db/app.sqlite
//	    write: true
//	    rights: [read, write, seek, fstat, flock]
//	    fcntls: [getfl]
type policy struct {
	Files []grant `yaml:"files"`
}

type grant struct {
	Path  string `yaml:"path"`
	Write bool   `yaml:"write"`
	// Rights, Fcntls and Ioctls are left unlimited when nil. An empty list
	// removes every right of that class.
	Rights []string `yaml:"rights"`
	Fcntls []string `yaml:"fcntls"`
	Ioctls []uint64 `yaml:"ioctls"`
}

func loadPolicy(path string) (*policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read policy %q: %w", path, err)
	}
	return parsePolicy(b)
}

func parsePolicy(b []byte) (*policy, error) {
	var p policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, xerrors.Errorf("parse policy: %w", err)
	}
	for i, g := range p.Files {
		if g.Path == "" {
			return nil, xerrors.Errorf("policy file %d: path is required: %w", i, capfd.ErrArgument)
		}
		if g.Rights != nil {
			if _, err := capfd.ParseRightNames(g.Rights); err != nil {
				return nil, xerrors.Errorf("policy file %q: %w", g.Path, err)
			}
		}
		if _, err := capfd.ParseFcntlRights(g.Fcntls); err != nil {
			return nil, xerrors.Errorf("policy file %q: %w", g.Path, err)
		}
	}
	return &p, nil
}

// open opens the file and applies every limit the grant names. Limits are
// applied rights first, since ioctl and fcntl limits need CAP_IOCTL and
// CAP_FCNTL to still be present.
func (g grant) open() (*capfd.Descriptor, error) {
	flags := unix.O_RDONLY
	if g.Write {
		flags = unix.O_RDWR
	}
	d, err := capfd.Open(g.Path, flags, 0)
	if err != nil {
		return nil, err
	}

	err = g.limit(d)
	if err != nil {
		_ = d.Release()
		return nil, xerrors.Errorf("limit %q: %w", g.Path, err)
	}
	return d, nil
}

func (g grant) limit(d *capfd.Descriptor) error {
	if g.Rights != nil {
		rights, err := capfd.ParseRightNames(g.Rights)
		if err != nil {
			return err
		}
		if err := d.Limit(rights); err != nil {
			return err
		}
	}
	if g.Ioctls != nil {
		if err := d.LimitIoctls(g.Ioctls); err != nil {
			return err
		}
	}
	if g.Fcntls != nil {
		mask, err := capfd.ParseFcntlRights(g.Fcntls)
		if err != nil {
			return err
		}
		if err := d.LimitFcntls(mask); err != nil {
			return err
		}
	}
	return nil
}
