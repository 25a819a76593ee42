package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatmux/internal/dash"
	"chatmux/pkg/command"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/tmux"
)

// dashEventLimit is the number of recent events shown in the events view.
const dashEventLimit = 50

// newDashCmd creates the "chatmux dash" subcommand.
func newDashCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Open the live session dashboard",
		Long:  "Opens a terminal dashboard with thread sessions, project windows and\nrecent lifecycle events. It refreshes when the session registry changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}

			src := &dash.FileSource{
				Config:       cfg,
				RegistryPath: cfg.Bridge.StateFile,
				Windows:      tmux.New(&command.ExecRunner{}),
				EventLimit:   dashEventLimit,
			}
			if reader, err := eventlog.NewReader(cfg.Bridge.EventsDB); err == nil {
				defer reader.Close()
				src.Events = reader
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "event log unavailable: %v\n", err)
			}

			return dash.Run(src, cfg.Bridge.StateFile)
		},
	}
}
