package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chatmux/pkg/command"
	"chatmux/pkg/config"
	"chatmux/pkg/router"
	"chatmux/pkg/tmux"
)

// homeWindow names window 0 of a freshly created session. Messages with no
// better destination land there.
const homeWindow = "home"

// sessionBuilder creates tmux sessions and windows. *tmux.Client implements it.
type sessionBuilder interface {
	HasSession(ctx context.Context, session string) bool
	NewSession(ctx context.Context, session, window string) error
	ListWindows(ctx context.Context, session string) (map[string]bool, error)
	NewWindow(ctx context.Context, session, name, shellCmd string) error
}

// newSetupCmd creates the "chatmux setup" subcommand.
func newSetupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create tmux sessions and project windows",
		Long:  "Creates each configured server's tmux session if missing, then starts an\nagent window for every project that does not have one yet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid config: %w", errors.Join(errs...))
			}
			return runSetup(cmd.Context(), cmd.OutOrStdout(), cfg, tmux.New(&command.ExecRunner{}))
		},
	}
}

// runSetup is idempotent: existing sessions and windows are left alone.
func runSetup(ctx context.Context, w io.Writer, cfg *config.Config, tm sessionBuilder) error {
	var errs []error
	for _, s := range cfg.Servers {
		session := s.Tmux.Session
		if !tm.HasSession(ctx, session) {
			if err := tm.NewSession(ctx, session, homeWindow); err != nil {
				errs = append(errs, fmt.Errorf("create session %s: %w", session, err))
				continue
			}
			fmt.Fprintf(w, "created session %s\n", session)
		}

		live, err := tm.ListWindows(ctx, session)
		if err != nil {
			errs = append(errs, fmt.Errorf("list windows of %s: %w", session, err))
			continue
		}
		for i := range s.Projects {
			p := &s.Projects[i]
			if live[p.Name] {
				fmt.Fprintf(w, "  %s: already running\n", p.Name)
				continue
			}
			if err := tm.NewWindow(ctx, session, p.Name, router.BuildWindowCommand(cfg.Bridge.AgentCommand, p)); err != nil {
				errs = append(errs, fmt.Errorf("start window %s:%s: %w", session, p.Name, err))
				continue
			}
			fmt.Fprintf(w, "  %s: started in %s\n", p.Name, p.ProjectPath)
		}
	}
	return errors.Join(errs...)
}
