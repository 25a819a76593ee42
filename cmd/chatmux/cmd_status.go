package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"chatmux/pkg/command"
	"chatmux/pkg/config"
	"chatmux/pkg/tmux"
)

// windowLister reports the windows of a tmux session. *tmux.Client
// implements it.
type windowLister interface {
	ListWindows(ctx context.Context, session string) (map[string]bool, error)
}

// newStatusCmd creates the "chatmux status" subcommand.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and project window status",
		Long:  "Reports whether the daemon is running and, per configured server,\nwhich project windows are live in its tmux session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			cfg, err := config.Load(paths.ConfigPath)
			if err != nil {
				// Daemon status is still useful without a config.
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			w := cmd.OutOrStdout()
			return runStatus(cmd.Context(), w, paths, cfg, tmux.New(&command.ExecRunner{}), isTerminal(w))
		},
	}
}

// runStatus prints daemon status followed by per-server window status.
func runStatus(ctx context.Context, w io.Writer, paths *Paths, cfg *config.Config, windows windowLister, styled bool) error {
	state, pid, err := newPIDFile(paths, nil).state()
	if err != nil {
		return err
	}

	heading := func(s string) string { return s }
	if styled {
		bold := lipgloss.NewStyle().Bold(true)
		heading = func(s string) string { return bold.Render(s) }
	}

	fmt.Fprintf(w, "%s %s\n", heading("daemon:"), describeDaemon(state, pid))

	if cfg == nil {
		return nil
	}
	for _, s := range cfg.Servers {
		fmt.Fprintf(w, "\n%s (tmux session %q)\n", heading("server "+s.Name), s.Tmux.Session)
		live, err := windows.ListWindows(ctx, s.Tmux.Session)
		if err != nil {
			fmt.Fprintf(w, "  session unavailable: %v\n", err)
			continue
		}
		for _, p := range s.Projects {
			if live[p.Name] {
				fmt.Fprintf(w, "  🟢 %s: running\n", p.Name)
			} else {
				fmt.Fprintf(w, "  ⭕ %s: stopped\n", p.Name)
			}
		}
	}
	return nil
}
