// Package router maps chat channels and threads onto tmux destinations for
// one configured server. A message in a project's primary channel goes to
// the project window; a message in a thread goes to that thread's own pane,
// which is provisioned on first use. Routing decisions are made
// synchronously in Route; the tmux and git I/O that follows runs on
// per-destination FIFO lanes so one thread's messages arrive in order and a
// fallback never waits behind provisioning.
//
// The Router also owns the lifecycle around those panes: thread teardown on
// archive, the periodic worktree sweep, static thread auto start, and the
// startup Reconcile pass that rebuilds in-memory state from the registry.
package router

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"chatmux/pkg/config"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/registry"
	"chatmux/pkg/tmux"
	"chatmux/pkg/worktree"
)

// ErrClosed is reported by deliveries submitted after Close.
var ErrClosed = errors.New("router closed")

// --- Interfaces for testability ---

// Terminal creates, feeds and destroys tmux panes. *tmux.Client implements it.
type Terminal interface {
	SplitPane(ctx context.Context, window, shellCmd string) (string, error)
	Send(ctx context.Context, target, text string) error
	KillPane(ctx context.Context, paneID string) error
	ListPanes(ctx context.Context) (map[string]bool, error)
	WaitReady(ctx context.Context, target string, timeout, interval time.Duration, ready tmux.ReadyFunc) bool
}

// Worktrees lists, inspects and removes isolated working copies.
// *worktree.Git implements it.
type Worktrees interface {
	List(ctx context.Context, repo string) ([]string, error)
	Remove(ctx context.Context, repo, path string) error
	Status(ctx context.Context, path string) (string, error)
}

// Locator discovers the worktree a freshly launched agent created.
// *worktree.Locator implements it.
type Locator interface {
	Locate(ctx context.Context, repo string, known worktree.KnownFunc) (string, bool)
}

// Notifier posts text to a chat channel or thread.
type Notifier interface {
	Send(ctx context.Context, channelID, text string) error
}

// ThreadStore persists dynamically created threads into the config file.
type ThreadStore interface {
	AppendThread(serverName, parentChannelID string, t config.Thread) error
}

// Tracker maintains the thread marker read by agent-side hooks.
// ipc.Dir implements it.
type Tracker interface {
	WriteThreadTracking(parentChannelID, threadID string) error
	ClearThreadTracking(parentChannelID string) error
}

// Recorder appends lifecycle events. *eventlog.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context, e eventlog.Event) error
}

// --- Options ---

// Options configures a Router. Server, Registry, Terminal and Worktrees are
// required.
type Options struct {
	Server    *config.Server
	Registry  *registry.Registry
	Terminal  Terminal
	Worktrees Worktrees
	Locator   Locator
	Notifier  Notifier
	Threads   ThreadStore
	Tracker   Tracker
	Events    Recorder
	Logger    *log.Logger

	// KnownScopes are all configured server names. Registry records of any
	// other scope are discarded by Reconcile.
	KnownScopes []string

	// NotifyChannel receives the reconciliation summary. Defaults to the
	// first project's channel.
	NotifyChannel string

	AgentCommand  string
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	SweepInterval time.Duration
	// Ready detects an input-ready agent. Defaults to tmux.ClaudeReady.
	Ready tmux.ReadyFunc

	// Exists reports whether a worktree path is on disk (tests).
	Exists func(path string) bool
	// Now returns the current time (tests).
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.AgentCommand == "" {
		o.AgentCommand = config.DefaultAgentCommand
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = config.DefaultReadyTimeout
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = config.DefaultReadyInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = config.DefaultSweepInterval
	}
	if o.Ready == nil {
		o.Ready = tmux.ClaudeReady
	}
	if o.Exists == nil {
		o.Exists = worktree.Exists
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NotifyChannel == "" && o.Server != nil && len(o.Server.Projects) > 0 {
		o.NotifyChannel = o.Server.Projects[0].ChannelID
	}
	if len(o.KnownScopes) == 0 && o.Server != nil {
		o.KnownScopes = []string{o.Server.Name}
	}
	return o
}

// --- Router ---

// Router is the routing state of one server.
type Router struct {
	opts   Options
	server atomic.Pointer[config.Server]
	reg    *registry.Registry
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	lanes  *lanes
	bg     sync.WaitGroup

	mu           sync.Mutex
	sessions     map[string]registry.Record // thread id -> live session
	parents      map[string]string          // thread id -> parent channel id
	provisioning map[string]struct{}        // thread ids being provisioned
}

// New creates a Router. Call Reconcile before routing traffic and Close
// when done.
func New(opts Options) *Router {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		opts:         opts,
		reg:          opts.Registry,
		logger:       opts.Logger.WithPrefix("router").With("server", opts.Server.Name),
		ctx:          ctx,
		cancel:       cancel,
		lanes:        newLanes(),
		sessions:     make(map[string]registry.Record),
		parents:      make(map[string]string),
		provisioning: make(map[string]struct{}),
	}
	r.server.Store(opts.Server)
	return r
}

func (r *Router) srv() *config.Server { return r.server.Load() }

// SetServer replaces the routing configuration after a config reload. Live
// sessions and the thread tables are kept; s must name the same server.
func (r *Router) SetServer(s *config.Server) {
	if s == nil || s.Name != r.srv().Name {
		return
	}
	r.server.Store(s)
}

// Close waits for queued deliveries, then stops background worktree
// discovery.
func (r *Router) Close() {
	r.lanes.close()
	r.cancel()
	r.bg.Wait()
}

// Sessions returns a copy of the live thread sessions.
func (r *Router) Sessions() map[string]registry.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.sessions)
}

// Provisioning reports whether threadID is being provisioned.
func (r *Router) Provisioning(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.provisioning[threadID]
	return ok
}

// ResolveParent maps a channel to the project channel it belongs to:
// itself when it is a project channel, else the recorded parent of the
// thread, else parentHint when that is a project channel. Unknown channels
// resolve to themselves.
func (r *Router) ResolveParent(channelID, parentHint string) string {
	if _, ok := r.srv().ProjectByChannel(channelID); ok {
		return channelID
	}
	r.mu.Lock()
	parent, ok := r.parents[channelID]
	if !ok {
		if rec, live := r.sessions[channelID]; live {
			parent, ok = rec.ParentChannelID, true
		}
	}
	r.mu.Unlock()
	if ok {
		return parent
	}
	if _, ok := r.srv().ProjectByChannel(parentHint); ok {
		return parentHint
	}
	return channelID
}

func (r *Router) primaryTarget(p *config.Project) string {
	return r.srv().WindowTarget(p)
}

// defaultTarget receives button answers for channels that map to nothing.
func (r *Router) defaultTarget() string {
	return r.srv().Tmux.Session + ":0"
}

// knownWorktreePaths is the union of worktree paths in the registry and in
// memory, computed at call time.
func (r *Router) knownWorktreePaths() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.knownWorktreePathsLocked()
}

func (r *Router) knownWorktreePathsLocked() map[string]struct{} {
	known := r.reg.KnownWorktreePaths()
	for _, rec := range r.sessions {
		if rec.WorktreePath != "" {
			known[rec.WorktreePath] = struct{}{}
		}
	}
	return known
}

func (r *Router) notify(ctx context.Context, channelID, text string) {
	if r.opts.Notifier == nil || channelID == "" {
		return
	}
	if err := r.opts.Notifier.Send(ctx, channelID, text); err != nil {
		r.logger.Warn("notify failed", "channel", channelID, "err", err)
	}
}

func (r *Router) record(ctx context.Context, evType, threadID, paneID, payload string) {
	if r.opts.Events == nil {
		return
	}
	err := r.opts.Events.Record(ctx, eventlog.Event{
		Type: evType, Source: r.srv().Name, ThreadID: threadID, PaneID: paneID, Payload: payload,
	})
	if err != nil {
		r.logger.Debug("record event", "type", evType, "err", err)
	}
}

func (r *Router) track(parentChannelID, threadID string) {
	if r.opts.Tracker == nil {
		return
	}
	var err error
	if threadID == "" {
		err = r.opts.Tracker.ClearThreadTracking(parentChannelID)
	} else {
		err = r.opts.Tracker.WriteThreadTracking(parentChannelID, threadID)
	}
	if err != nil {
		r.logger.Warn("thread tracking", "parent", parentChannelID, "thread", threadID, "err", err)
	}
}
