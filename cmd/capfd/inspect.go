//go:build linux || freebsd || darwin

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cdr.dev/slog"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func inspectCmd(g *globalFlags) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "inspect PATH...",
		Short: "Print the kind, flags and capability limits of freshly opened files.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := g.logger(cmd.ErrOrStderr())
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, path := range args {
				r, err := inspect(cmd.Context(), log, path)
				if err != nil {
					return err
				}
				if g.outputFormat == "json" {
					if err := enc.Encode(r); err != nil {
						return xerrors.Errorf("write report as JSON: %w", err)
					}
					continue
				}
				r.writeText(cmd.OutOrStdout())
			}
			return nil
		},
	}
	return cmd
}

type report struct {
	Path        string             `json:"path"`
	Kind        string             `json:"kind"`
	Mode        string             `json:"mode"`
	Size        int64              `json:"size"`
	Flags       int                `json:"flags"`
	CloseOnExec bool               `json:"close_on_exec"`
	Rights      []string           `json:"rights,omitempty"`
	Fcntls      string             `json:"fcntls,omitempty"`
	Ioctls      *capfd.IoctlLimits `json:"ioctls,omitempty"`
	CapMode     bool               `json:"capability_mode"`
}

func inspect(ctx context.Context, log slog.Logger, path string) (*report, error) {
	d, err := capfd.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer d.Release()

	st, err := d.Stat()
	if err != nil {
		return nil, err
	}
	flags, err := d.Flags()
	if err != nil {
		return nil, err
	}
	cloexec, err := d.CloseOnExec()
	if err != nil {
		return nil, err
	}

	r := &report{
		Path:        path,
		Kind:        capfd.KindOf(&st).String(),
		Mode:        os.FileMode(uint32(st.Mode) & 0o777).String(),
		Size:        st.Size,
		Flags:       flags,
		CloseOnExec: cloexec,
	}

	// Capability queries only work on FreeBSD; elsewhere the report just
	// leaves them out.
	rights, err := d.RightsGet()
	switch {
	case err == nil:
		for _, right := range rights.Rights() {
			r.Rights = append(r.Rights, right.String())
		}
	case xerrors.Is(err, capfd.ErrUnsupported):
		log.Debug(ctx, "capability rights unavailable", slog.F("path", path), slog.Error(err))
		return r, nil
	default:
		return nil, err
	}
	if fcntls, err := d.Fcntls(); err == nil {
		r.Fcntls = fcntls.String()
	} else {
		log.Warn(ctx, "query fcntl limits", slog.F("path", path), slog.Error(err))
	}
	ioctls, err := queryIoctls(d)
	if err == nil {
		r.Ioctls = &ioctls
	} else {
		log.Warn(ctx, "query ioctl limits", slog.F("path", path), slog.Error(err))
	}
	r.CapMode, err = capfd.InCapabilityMode()
	if err != nil {
		log.Warn(ctx, "query capability mode", slog.Error(err))
	}
	return r, nil
}

// queryIoctls grows the buffer until the whole allow list fits.
func queryIoctls(d *capfd.Descriptor) (capfd.IoctlLimits, error) {
	size := 16
	for {
		l, err := d.Ioctls(size)
		var berr *capfd.BufferError
		if xerrors.As(err, &berr) && berr.Expected > size {
			size = berr.Expected
			continue
		}
		return l, err
	}
}

func (r *report) writeText(w io.Writer) {
	_, _ = fmt.Fprintf(w, "%s: kind=%s mode=%s size=%d flags=%#x cloexec=%v\n",
		r.Path, r.Kind, r.Mode, r.Size, r.Flags, r.CloseOnExec)
	if r.Rights == nil {
		return
	}
	var ioctls string
	switch {
	case r.Ioctls == nil:
		ioctls = "unknown"
	case r.Ioctls.All:
		ioctls = "all"
	default:
		cmds := make([]string, len(r.Ioctls.Cmds))
		for i, c := range r.Ioctls.Cmds {
			cmds[i] = fmt.Sprintf("%#x", c)
		}
		ioctls = "{" + strings.Join(cmds, ",") + "}"
	}
	_, _ = fmt.Fprintf(w, "  rights={%s} fcntls=%s ioctls=%s capmode=%v\n",
		strings.Join(r.Rights, ","), r.Fcntls, ioctls, r.CapMode)
}
