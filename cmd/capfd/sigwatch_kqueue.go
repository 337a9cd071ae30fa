//go:build freebsd || darwin

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"cdr.dev/slog"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func sigwatch(cmd *cobra.Command, g *globalFlags, signals []unix.Signal, count uint64, timeout time.Duration) error {
	ctx := cmd.Context()
	log := g.logger(cmd.ErrOrStderr())

	watched := make([]capfd.Signal, len(signals))
	for i, sig := range signals {
		watched[i] = capfd.Signal(sig)
	}
	d, err := capfd.NewSignalDispatcher(watched, &capfd.DispatcherOpts{Logger: log.Named("dispatcher")})
	if err != nil {
		return xerrors.Errorf("watch signals: %w", err)
	}
	defer d.Close()

	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			log.Debug(ctx, "timeout reached, closing dispatcher")
			_ = d.Close()
		})
		defer t.Stop()
	}

	log.Info(ctx, "waiting for signals", slog.F("signals", signals), slog.F("pid", unix.Getpid()))
	enc := json.NewEncoder(cmd.OutOrStdout())
	var seq uint64
	for count == 0 || seq < count {
		occ, err := capfd.ReadOccurrence(d, seq)
		if err != nil {
			if xerrors.Is(err, capfd.ErrInvalidHandle) {
				return nil
			}
			return xerrors.Errorf("read signal: %w", err)
		}
		seq = occ.Seq

		if g.outputFormat == "text" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s (%d)\n", occ.Seq, occ.Signal, occ.Number)
			continue
		}
		if err := enc.Encode(occ); err != nil {
			log.Warn(ctx, "error writing occurrence as JSON", slog.Error(err))
		}
	}
	return nil
}
