//go:build linux || freebsd || darwin

package main

import (
	"io"
	"log"
	"os"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"cdr.dev/slog/sloggers/slogjson"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func main() {
	err := rootCmd().Execute()
	if err != nil {
		log.Fatalf("failed to run command: %+v", err)
	}
}

type globalFlags struct {
	verbose      bool
	outputFormat string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	var cmd = &cobra.Command{
		Use:           "capfd",
		Short:         "capfd hands out capability-limited descriptors and watches signals through kqueue.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.outputFormat != "text" && g.outputFormat != "json" {
				return xerrors.Errorf(`output format must be "text" or "json", got %q`, g.outputFormat)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug messages to stderr")
	cmd.PersistentFlags().StringVarP(&g.outputFormat, "output", "f", "text", "Output format, text or json")

	cmd.AddCommand(
		runCmd(&g),
		inspectCmd(&g),
		sigwatchCmd(&g),
	)
	return cmd
}

// logger writes to stderr in the same format as the command output.
func (g *globalFlags) logger(w io.Writer) slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var log slog.Logger
	if g.outputFormat == "json" {
		log = slog.Make(slogjson.Sink(w))
	} else {
		log = slog.Make(sloghuman.Sink(w))
	}
	if g.verbose {
		return log.Leveled(slog.LevelDebug)
	}
	return log.Leveled(slog.LevelInfo)
}
