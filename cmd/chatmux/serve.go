package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"chatmux/pkg/attach"
	"chatmux/pkg/bridge"
	"chatmux/pkg/chat/gateway"
	"chatmux/pkg/command"
	"chatmux/pkg/config"
	"chatmux/pkg/control"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/ipc"
	"chatmux/pkg/registry"
	"chatmux/pkg/router"
	"chatmux/pkg/tmux"
	"chatmux/pkg/worktree"
)

// reloader receives a server's new settings after a config change.
// *bridge.Bridge implements it.
type reloader interface {
	Reload(s *config.Server)
}

// runDaemon serves every configured server until ctx is cancelled: the
// gateway, one bridge per server and the config watcher run in one errgroup,
// so a fatal error in any of them stops the rest.
func runDaemon(ctx context.Context, cfgPath string, logger *log.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid config %s: %w", cfgPath, errors.Join(errs...))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Bridge.StateFile), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	rec, err := eventlog.Open(ctx, cfg.Bridge.EventsDB)
	if err != nil {
		logger.Warn("event log unavailable, events will not be recorded", "path", cfg.Bridge.EventsDB, "err", err)
	} else {
		defer func() { _ = rec.Close() }()
	}

	runner := &command.ExecRunner{}
	term := tmux.New(runner)
	term.PasteSettle = cfg.Bridge.PasteSettle.Std()
	git := worktree.NewGit(runner)
	locator := &worktree.Locator{
		Lister:      git,
		MaxAttempts: cfg.Bridge.LocatorAttempts,
		Interval:    cfg.Bridge.LocatorInterval.Std(),
		Logger:      logger.WithPrefix("locator"),
	}
	reg := registry.Open(cfg.Bridge.StateFile, logger.WithPrefix("registry"))
	tracking := ipc.Dir(cfg.Bridge.TrackingDir)
	downloads := attach.New(cfg.Bridge.UploadDir)
	threads := config.ThreadAppender{Path: cfgPath}
	warnings := cfg.DuplicateChannels()

	gw := gateway.New(gateway.Options{
		Token:   cfg.Bridge.Token,
		Servers: cfg.ServerNames(),
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Serve(gctx, cfg.Bridge.Listen) })

	bridges := make(map[string]reloader, len(cfg.Servers))
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		sink := gw.Sink(s.Name)
		srvLog := logger.With("server", s.Name)

		r := router.New(router.Options{
			Server:        s,
			Registry:      reg,
			Terminal:      term,
			Worktrees:     git,
			Locator:       locator,
			Notifier:      sink,
			Threads:       threads,
			Tracker:       tracking,
			Events:        recorderOrNil(rec),
			Logger:        srvLog,
			KnownScopes:   cfg.ServerNames(),
			AgentCommand:  cfg.Bridge.AgentCommand,
			ReadyTimeout:  cfg.Bridge.ReadyTimeout.Std(),
			ReadyInterval: cfg.Bridge.ReadyInterval.Std(),
			SweepInterval: cfg.Bridge.SweepInterval.Std(),
		})
		ctl := control.New(control.Options{
			Server:       s,
			Windows:      term,
			Records:      reg,
			Events:       recorderOrNil(rec),
			AgentCommand: cfg.Bridge.AgentCommand,
			Logger:       srvLog,
		})
		b := bridge.New(bridge.Options{
			Server:      s,
			Router:      r,
			Control:     ctl,
			Sink:        sink,
			Permissions: tracking,
			Fetcher:     downloads,
			UploadDir:   cfg.Bridge.UploadDir,
			Warnings:    warningsFor(warnings, s.Name),
			Logger:      srvLog,
		})
		bridges[s.Name] = b

		events := gw.Events(s.Name)
		g.Go(func() error {
			defer r.Close()
			return b.Run(gctx, events)
		})
	}

	g.Go(func() error {
		return config.Watch(gctx, cfgPath, logger.WithPrefix("config"), func() {
			reloadServers(cfgPath, bridges, logger)
		})
	})

	logger.Info("chatmux running", "servers", len(cfg.Servers), "listen", cfg.Bridge.Listen)
	err = g.Wait()
	logger.Info("chatmux stopped")
	return err
}

// recorderOrNil keeps a failed Open from becoming a non-nil interface
// holding a nil pointer.
func recorderOrNil(rec *eventlog.Recorder) router.Recorder {
	if rec == nil {
		return nil
	}
	return rec
}

// reloadServers re-reads the config file and hands each running server its
// new settings. Servers added or removed take effect on the next start.
func reloadServers(cfgPath string, bridges map[string]reloader, logger *log.Logger) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config reload failed, keeping current settings", "path", cfgPath, "err", err)
		return
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		logger.Warn("config reload rejected, keeping current settings", "path", cfgPath, "err", errors.Join(errs...))
		return
	}
	for name, b := range bridges {
		s, ok := cfg.Server(name)
		if !ok {
			logger.Warn("server removed from config; restart to stop it", "server", name)
			continue
		}
		b.Reload(s)
	}
	for _, name := range cfg.ServerNames() {
		if _, ok := bridges[name]; !ok {
			logger.Warn("server added to config; restart to serve it", "server", name)
		}
	}
	logger.Info("config reloaded", "path", cfgPath)
}

// warningsFor selects the duplicate-channel warnings naming server.
func warningsFor(warnings []string, server string) []string {
	var out []string
	for _, w := range warnings {
		if strings.Contains(w, `"`+server+"/") {
			out = append(out, w)
		}
	}
	return out
}
