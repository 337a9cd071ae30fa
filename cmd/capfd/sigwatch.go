//go:build linux || freebsd || darwin

package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func sigwatchCmd(g *globalFlags) *cobra.Command {
	var (
		count   uint64
		timeout time.Duration
	)

	var cmd = &cobra.Command{
		Use:   "sigwatch SIGNAL...",
		Short: "Print every delivery of the given signals, in order, until interrupted by the timeout or count.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signals, err := parseSignals(args)
			if err != nil {
				return err
			}
			return sigwatch(cmd, g, signals, count, timeout)
		},
	}

	cmd.Flags().Uint64VarP(&count, "count", "n", 0, "Exit after this many deliveries (0 for no limit)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Exit after this long (0 for no limit)")
	return cmd
}

// parseSignals accepts names with or without the SIG prefix, in any case, and
// signal numbers.
func parseSignals(args []string) ([]unix.Signal, error) {
	signals := make([]unix.Signal, 0, len(args))
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			signals = append(signals, unix.Signal(n))
			continue
		}
		name := strings.ToUpper(arg)
		if !strings.HasPrefix(name, "SIG") {
			name = "SIG" + name
		}
		sig := unix.SignalNum(name)
		if sig == 0 {
			return nil, xerrors.Errorf("unknown signal %q: %w", arg, capfd.ErrArgument)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}
