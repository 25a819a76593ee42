package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"chatmux/pkg/config"
)

// DaemonSpawner abstracts starting the background daemon for testability.
type DaemonSpawner interface {
	SpawnDaemon(p *Paths, logLevel string) (pid int, err error)
}

// ExecDaemonSpawner re-executes the current binary as
// `chatmux start --foreground` in its own session, logging to p.LogPath.
type ExecDaemonSpawner struct{}

// SpawnDaemon starts the detached child and returns its PID.
func (e *ExecDaemonSpawner) SpawnDaemon(p *Paths, logLevel string) (int, error) {
	logFile, err := os.OpenFile(p.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path is controlled by the application
	if err != nil {
		return 0, fmt.Errorf("open log %s: %w", p.LogPath, err)
	}
	defer logFile.Close()

	args := []string{"start", "--foreground", "--config", p.ConfigPath}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	child := exec.CommandContext(context.Background(), os.Args[0], args...) //nolint:gosec // intentionally re-executing self
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()
	return pid, nil
}

// newStartCmd creates the "chatmux start" subcommand.
func newStartCmd(opts *rootOptions) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chatmux daemon",
		Long:  "Validates the config and starts the daemon in the background.\nWith --foreground the daemon runs in the current process (used by the\nbackground child and under service managers).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			if err := ensureHome(paths); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			if foreground {
				return runForeground(cmd.Context(), logger, paths)
			}
			return runStart(cmd.OutOrStdout(), logger, paths, opts.logLevel, &ExecDaemonSpawner{})
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run the daemon in this process")

	return cmd
}

// runStart checks for a live daemon, validates the config and spawns the
// background child.
func runStart(w io.Writer, logger *log.Logger, paths *Paths, logLevel string, spawner DaemonSpawner) error {
	state, pid, err := newPIDFile(paths, logger).clearStale(w)
	if err != nil {
		return err
	}
	if state == daemonRunning {
		fmt.Fprintf(w, "chatmux is already running (PID %d)\n", pid)
		return nil
	}

	if err := checkConfig(paths.ConfigPath); err != nil {
		return err
	}

	pid, err = spawner.SpawnDaemon(paths, logLevel)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "chatmux started (PID %d), logging to %s\n", pid, paths.LogPath)
	return nil
}

// checkConfig loads and validates the config so mistakes are reported to the
// operator instead of the daemon log.
func checkConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// runForeground runs the daemon in this process until SIGTERM/SIGINT.
func runForeground(ctx context.Context, logger *log.Logger, paths *Paths) error {
	pids := newPIDFile(paths, logger)
	if err := pids.claim(); err != nil {
		return err
	}
	shutdownCtx, release := pids.shutdownContext(ctx)
	defer release()

	logger.Info("starting chatmux", "pid", os.Getpid(), "config", paths.ConfigPath)
	return runDaemon(shutdownCtx, paths.ConfigPath, logger)
}
