// Package bridge wires one chat server to its router and control surface.
// Start runs the startup sequence; Run then consumes chat events one at a
// time, so routing decisions are made in arrival order.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"chatmux/pkg/attach"
	"chatmux/pkg/chat"
	"chatmux/pkg/config"
	"chatmux/pkg/control"
	"chatmux/pkg/router"
)

// --- Interfaces for testability ---

// Permissions stores permission decisions for agent-side hooks. ipc.Dir
// implements it.
type Permissions interface {
	WritePermissionDecision(channelID, decision string) error
}

// Fetcher downloads message attachments. *attach.Downloader implements it.
type Fetcher interface {
	DownloadAll(ctx context.Context, files []attach.File) ([]string, error)
}

// Options configures a Bridge. Server, Router, Control and Sink are
// required.
type Options struct {
	Server      *config.Server
	Router      *router.Router
	Control     *control.Controller
	Sink        chat.Sink
	Permissions Permissions
	Fetcher     Fetcher

	// UploadDir is cleaned of stale attachments at startup.
	UploadDir string
	// Warnings are logged at startup (duplicate channel ids).
	Warnings []string

	Logger *log.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Bridge handles the chat events of one server.
type Bridge struct {
	opts    Options
	server  *config.Server
	router  *router.Router
	control *control.Controller
	sink    chat.Sink
	logger  *log.Logger

	reload chan *config.Server
	// pending tracks follow-ups that wait for a delivery outcome.
	pending sync.WaitGroup
}

// New creates a Bridge.
func New(opts Options) *Bridge {
	opts = opts.withDefaults()
	return &Bridge{
		opts:    opts,
		server:  opts.Server,
		router:  opts.Router,
		control: opts.Control,
		sink:    opts.Sink,
		logger:  opts.Logger.WithPrefix("bridge").With("server", opts.Server.Name),
		reload:  make(chan *config.Server, 1),
	}
}

// Reload queues a new configuration for this server. It is applied between
// events; a reload queued before the previous one was applied replaces it.
func (b *Bridge) Reload(s *config.Server) {
	for {
		select {
		case b.reload <- s:
			return
		default:
		}
		select {
		case <-b.reload:
		default:
		}
	}
}

func (b *Bridge) apply(s *config.Server) {
	if s == nil || s.Name != b.server.Name {
		return
	}
	b.server = s
	b.router.SetServer(s)
	b.control.SetServer(s)
	b.logger.Info("configuration reloaded", "projects", len(s.Projects))
}

// Start runs the startup sequence: configuration warnings, upload cleanup,
// reconciliation, project and static thread auto start, then the control
// panel in the general channel. It must complete before events are
// handled.
func (b *Bridge) Start(ctx context.Context) router.Report {
	for _, w := range b.opts.Warnings {
		b.logger.Warn(w)
	}

	if b.opts.UploadDir != "" {
		n, err := attach.CleanupOld(b.opts.UploadDir, attach.MaxAge, b.opts.Now(), b.logger)
		if err != nil {
			b.logger.Warn("clean upload dir", "dir", b.opts.UploadDir, "err", err)
		} else if n > 0 {
			b.logger.Info("removed stale uploads", "count", n)
		}
	}

	rep := b.router.Reconcile(ctx)
	b.control.AutoStartProjects(ctx)
	if started := b.router.AutoStartThreads(ctx); len(started) > 0 {
		b.logger.Info("static threads started", "threads", started)
	}

	if b.server.GeneralChannelID != "" {
		if err := b.sink.ShowPanel(ctx, b.server.GeneralChannelID, b.control.Panel(ctx)); err != nil {
			b.logger.Warn("post control panel", "channel", b.server.GeneralChannelID, "err", err)
		}
	}
	return rep
}

// Run starts the bridge, then handles events until ctx ends or events is
// closed. The worktree sweep runs alongside.
func (b *Bridge) Run(ctx context.Context, events <-chan chat.Event) error {
	b.Start(ctx)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var sweep sync.WaitGroup
	sweep.Add(1)
	go func() {
		defer sweep.Done()
		b.router.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		sweep.Wait()
		b.pending.Wait()
	}()

	b.logger.Info("bridge ready", "projects", len(b.server.Projects))
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-b.reload:
			b.apply(s)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			select {
			case s := <-b.reload:
				b.apply(s)
			default:
			}
			b.Handle(ctx, ev)
		}
	}
}

// Flush waits for outstanding interaction follow-ups.
func (b *Bridge) Flush() {
	b.pending.Wait()
}
