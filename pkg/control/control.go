// Package control is the operator control surface of one server: a status
// panel listing project windows and active worktrees, the ctrl:* button
// actions that start and stop project windows, and project auto start.
package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"chatmux/pkg/chat"
	"chatmux/pkg/config"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/protocol"
	"chatmux/pkg/registry"
	"chatmux/pkg/router"
)

// MaxProjectButtons leaves one of the 25 button slots for Refresh.
const MaxProjectButtons = 24

const buttonsPerRow = 5

// ErrUnknownProject is returned for actions naming no configured project.
var ErrUnknownProject = errors.New("unknown project")

// --- Interfaces for testability ---

// Windows manages tmux windows. *tmux.Client implements it.
type Windows interface {
	ListWindows(ctx context.Context, session string) (map[string]bool, error)
	NewWindow(ctx context.Context, session, name, shellCmd string) error
	KillWindow(ctx context.Context, session, name string) error
}

// Records lists persisted thread sessions. *registry.Registry implements it.
type Records interface {
	All() map[string]registry.Record
}

// Recorder appends lifecycle events. *eventlog.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context, e eventlog.Event) error
}

// Options configures a Controller.
type Options struct {
	Server       *config.Server
	Windows      Windows
	Records      Records
	Events       Recorder
	AgentCommand string
	Logger       *log.Logger
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.AgentCommand == "" {
		o.AgentCommand = config.DefaultAgentCommand
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Controller starts and stops project windows and renders the panel.
type Controller struct {
	opts   Options
	server atomic.Pointer[config.Server]
	logger *log.Logger
}

// New creates a Controller.
func New(opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		opts:   opts,
		logger: opts.Logger.WithPrefix("control").With("server", opts.Server.Name),
	}
	c.server.Store(opts.Server)
	return c
}

// SetServer replaces the project list after a config reload.
func (c *Controller) SetServer(s *config.Server) {
	if s != nil && s.Name == c.server.Load().Name {
		c.server.Store(s)
	}
}

func (c *Controller) session() string { return c.server.Load().Tmux.Session }

// Running returns the names of the session's windows. Errors yield an
// empty set.
func (c *Controller) Running(ctx context.Context) map[string]bool {
	windows, err := c.opts.Windows.ListWindows(ctx, c.session())
	if err != nil {
		c.logger.Warn("list windows", "session", c.session(), "err", err)
		return map[string]bool{}
	}
	return windows
}

// Start opens the project's window and launches the agent in it. A running
// window is left alone.
func (c *Controller) Start(ctx context.Context, name string) error {
	p, ok := c.server.Load().ProjectByName(name)
	if !ok {
		return fmt.Errorf("start %q: %w", name, ErrUnknownProject)
	}
	if c.Running(ctx)[p.Name] {
		return nil
	}
	cmd := router.BuildWindowCommand(c.opts.AgentCommand, p)
	if err := c.opts.Windows.NewWindow(ctx, c.session(), p.Name, cmd); err != nil {
		return fmt.Errorf("start window %s: %w", p.Name, err)
	}
	c.logger.Info("project window started", "project", p.Name)
	c.record(ctx, protocol.EventWindowStarted, p.Name)
	return nil
}

// Stop kills the project's window.
func (c *Controller) Stop(ctx context.Context, name string) error {
	if err := c.opts.Windows.KillWindow(ctx, c.session(), name); err != nil {
		return fmt.Errorf("stop window %s: %w", name, err)
	}
	c.logger.Info("project window stopped", "project", name)
	c.record(ctx, protocol.EventWindowStopped, name)
	return nil
}

// AutoStartProjects starts the window of every startup project that is not
// running. Windows of other projects are never stopped. It returns the
// started project names.
func (c *Controller) AutoStartProjects(ctx context.Context) []string {
	s := c.server.Load()
	running := c.Running(ctx)
	var started []string
	for i := range s.Projects {
		p := &s.Projects[i]
		if !p.Startup || running[p.Name] {
			continue
		}
		cmd := router.BuildWindowCommand(c.opts.AgentCommand, p)
		if err := c.opts.Windows.NewWindow(ctx, c.session(), p.Name, cmd); err != nil {
			c.logger.Error("auto-start project window", "project", p.Name, "err", err)
			continue
		}
		c.record(ctx, protocol.EventWindowStarted, p.Name)
		started = append(started, p.Name)
	}
	if len(started) > 0 {
		c.logger.Info("project windows auto-started", "projects", started)
	}
	return started
}

// Handle performs a ctrl:* action and returns the refreshed panel. Start
// and stop failures are logged; the panel is returned either way.
func (c *Controller) Handle(ctx context.Context, customID string) (chat.Panel, error) {
	a, ok := ParseAction(customID)
	if !ok {
		return chat.Panel{}, fmt.Errorf("control action %q: not recognized", customID)
	}
	var err error
	switch a.Verb {
	case VerbStart:
		err = c.Start(ctx, a.Project)
	case VerbStop:
		err = c.Stop(ctx, a.Project)
	}
	if err != nil {
		c.logger.Error("control action failed", "action", customID, "err", err)
	}
	return c.Panel(ctx), nil
}

// --- Panel ---

// Panel renders the control panel for the current window and registry
// state.
func (c *Controller) Panel(ctx context.Context) chat.Panel {
	return BuildPanel(c.server.Load(), c.Running(ctx), c.opts.Records.All(), c.opts.Now())
}

// BuildPanel renders the control panel: project status lines, the server's
// active worktrees, an update stamp and one start/stop button per project
// plus Refresh.
func BuildPanel(s *config.Server, running map[string]bool, records map[string]registry.Record, now time.Time) chat.Panel {
	projects := s.Projects
	if len(projects) > MaxProjectButtons {
		projects = projects[:MaxProjectButtons]
	}

	lines := []string{"🎮 **Control Panel**", "", "**Projects**"}
	for _, p := range projects {
		if running[p.Name] {
			lines = append(lines, fmt.Sprintf("🟢 `%s`: running", p.Name))
		} else {
			lines = append(lines, fmt.Sprintf("⭕ `%s`: stopped", p.Name))
		}
	}
	if extra := len(s.Projects) - len(projects); extra > 0 {
		lines = append(lines, fmt.Sprintf("_… and %d more (not shown)_", extra))
	}

	var ids []string
	for id, rec := range records {
		if rec.WorktreePath != "" && rec.ServerName == s.Name {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		slices.Sort(ids)
		lines = append(lines, "", "**Active Worktrees**")
		for _, id := range ids {
			lines = append(lines, fmt.Sprintf("• Thread %s... → %s", shortID(id), records[id].WorktreePath))
		}
	}
	lines = append(lines, "", fmt.Sprintf("_Updated: %s_", now.UTC().Format("2006-01-02 15:04")))

	buttons := make([]chat.Button, 0, len(projects)+1)
	for _, p := range projects {
		if running[p.Name] {
			buttons = append(buttons, chat.Button{ID: stopPrefix + p.Name, Label: "🛑 Stop " + p.Name, Style: chat.StyleDanger})
		} else {
			buttons = append(buttons, chat.Button{ID: startPrefix + p.Name, Label: "▶ Start " + p.Name, Style: chat.StyleSuccess})
		}
	}
	buttons = append(buttons, chat.Button{ID: refreshID, Label: "🔄 Refresh", Style: chat.StyleSecondary})

	var rows [][]chat.Button
	for chunk := range slices.Chunk(buttons, buttonsPerRow) {
		rows = append(rows, chunk)
	}
	return chat.Panel{Content: strings.Join(lines, "\n"), Rows: rows}
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

func (c *Controller) record(ctx context.Context, evType, project string) {
	if c.opts.Events == nil {
		return
	}
	if err := c.opts.Events.Record(ctx, eventlog.Event{Type: evType, Source: c.server.Load().Name, Payload: project}); err != nil {
		c.logger.Debug("record event", "type", evType, "err", err)
	}
}
