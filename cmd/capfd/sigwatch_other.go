//go:build linux

package main

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func sigwatch(_ *cobra.Command, _ *globalFlags, _ []unix.Signal, _ uint64, _ time.Duration) error {
	return xerrors.Errorf("sigwatch needs kqueue: %w", capfd.ErrUnsupported)
}
