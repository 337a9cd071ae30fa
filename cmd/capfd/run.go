//go:build linux || freebsd || darwin

package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"cdr.dev/slog"
	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

// firstGrantFD is the descriptor number of the first granted file in the
// child.
const firstGrantFD = 3

func runCmd(g *globalFlags) *cobra.Command {
	var (
		files      []string
		rights     []string
		write      bool
		policyPath string
	)

	var cmd = &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command with capability-limited descriptors starting at descriptor 3.",
		Long: "Run a command with capability-limited descriptors starting at descriptor 3.\n" +
			"A single COMMAND argument is split like a shell command line.\n" +
			"The child finds its descriptors in the CAPFD_FDS environment variable.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &policy{}
			if policyPath != "" {
				var err error
				p, err = loadPolicy(policyPath)
				if err != nil {
					return err
				}
			}
			for _, f := range files {
				gr := grant{Path: f, Write: write}
				if cmd.Flags().Changed("rights") {
					gr.Rights = append([]string{}, rights...)
				}
				p.Files = append(p.Files, gr)
			}

			argv := args
			if len(args) == 1 {
				var err error
				argv, err = shellquote.Split(args[0])
				if err != nil {
					return xerrors.Errorf("split command %q: %w", args[0], err)
				}
				if len(argv) == 0 {
					return xerrors.Errorf("empty command: %w", capfd.ErrArgument)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, g.logger(cmd.ErrOrStderr()), p, argv, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&files, "file", nil, "File to grant to the command, may be repeated")
	cmd.Flags().StringSliceVar(&rights, "rights", nil, "Capability rights left on every --file, e.g. read,seek,fstat")
	cmd.Flags().BoolVar(&write, "write", false, "Open every --file read-write instead of read-only")
	cmd.Flags().StringVarP(&policyPath, "policy", "p", "", "YAML policy listing files and their rights")

	return cmd
}

func run(ctx context.Context, log slog.Logger, p *policy, argv []string, cmd *cobra.Command) error {
	extra := make([]*os.File, 0, len(p.Files))
	defer func() {
		for _, f := range extra {
			_ = f.Close()
		}
	}()

	fds := make([]string, 0, len(p.Files))
	for i, gr := range p.Files {
		d, err := gr.open()
		if err != nil {
			return xerrors.Errorf("grant %q: %w", gr.Path, err)
		}
		if rights, err := d.RightsGet(); err == nil {
			log.Debug(ctx, "granting descriptor",
				slog.F("path", gr.Path),
				slog.F("fd", firstGrantFD+i),
				slog.F("rights", rights.String()),
			)
		}

		// The child inherits a duplicate made by os/exec; ours is closed once
		// the command has started.
		fd, err := d.Take()
		if err != nil {
			return err
		}
		extra = append(extra, os.NewFile(uintptr(fd), gr.Path))
		fds = append(fds, strconv.Itoa(firstGrantFD+i))
	}

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = cmd.InOrStdin()
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	c.ExtraFiles = extra
	c.Env = append(os.Environ(), "CAPFD_FDS="+strings.Join(fds, ","))

	log.Debug(ctx, "starting command",
		slog.F("cmdline", shellquote.Join(argv...)),
		slog.F("fds", len(extra)),
	)
	err := c.Start()
	if err != nil {
		return xerrors.Errorf("start %q: %w", argv[0], err)
	}

	var merr error
	for _, f := range extra {
		if err := f.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	extra = nil
	if merr != nil {
		log.Warn(ctx, "failed to close granted files in parent", slog.Error(merr))
	}

	err = c.Wait()
	if err != nil {
		return xerrors.Errorf("command %q: %w", shellquote.Join(argv...), err)
	}
	return nil
}
