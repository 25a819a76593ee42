package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// newStopCmd creates the "chatmux stop" subcommand.
func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the chatmux daemon",
		Long:  "Sends SIGTERM to the daemon. Agent windows and panes in tmux keep running\nand are picked up again by the next start.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			return runStop(cmd.OutOrStdout(), logger, paths)
		},
	}
}

// runStop signals a running daemon and clears a stale PID file.
func runStop(w io.Writer, logger *log.Logger, paths *Paths) error {
	pids := newPIDFile(paths, logger)
	state, _, err := pids.clearStale(w)
	if err != nil {
		return err
	}
	if state != daemonRunning {
		fmt.Fprintln(w, "chatmux is not running")
		return nil
	}

	pid, err := pids.terminate()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "stop signal sent to chatmux (PID %d)\n", pid)
	return nil
}
