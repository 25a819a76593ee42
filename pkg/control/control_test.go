package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"chatmux/pkg/chat"
	"chatmux/pkg/config"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/registry"
)

type fakeWindows struct {
	mu      sync.Mutex
	windows map[string]bool
	created []string
	killed  []string
	listErr error
	newErr  error
}

func (f *fakeWindows) ListWindows(context.Context, string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]bool, len(f.windows))
	for k, v := range f.windows {
		out[k] = v
	}
	return out, nil
}

func (f *fakeWindows) NewWindow(_ context.Context, session, name, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return f.newErr
	}
	f.created = append(f.created, session+":"+name+" "+cmd)
	f.windows[name] = true
	return nil
}

func (f *fakeWindows) KillWindow(_ context.Context, session, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, session+":"+name)
	delete(f.windows, name)
	return nil
}

type staticRecords map[string]registry.Record

func (s staticRecords) All() map[string]registry.Record { return s }

type fakeRecorder struct{ types []string }

func (f *fakeRecorder) Record(_ context.Context, e eventlog.Event) error {
	f.types = append(f.types, e.Type+":"+e.Payload)
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

var stamp = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func testServer() *config.Server {
	return &config.Server{
		Name: "personal",
		Tmux: config.Tmux{Session: "bridge"},
		Projects: []config.Project{
			{Name: "api", ChannelID: "1", ProjectPath: "/src/api", Model: "sonnet", Startup: true, Permission: config.PermissionBypass},
			{Name: "web", ChannelID: "2", ProjectPath: "/src/web", Model: "haiku", Startup: true},
			{Name: "docs", ChannelID: "3", ProjectPath: "/src/docs", Model: "haiku"},
		},
	}
}

func newController(w *fakeWindows, rec *fakeRecorder, records staticRecords) *Controller {
	return New(Options{
		Server:  testServer(),
		Windows: w,
		Records: records,
		Events:  rec,
		Logger:  log.New(discard{}),
		Now:     func() time.Time { return stamp },
	})
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		id   string
		want Action
		ok   bool
	}{
		{"ctrl:refresh", Action{Verb: VerbRefresh}, true},
		{"ctrl:start:api", Action{Verb: VerbStart, Project: "api"}, true},
		{"ctrl:stop:my:proj", Action{Verb: VerbStop, Project: "my:proj"}, true},
		{"ctrl:start:", Action{}, false},
		{"ctrl:restart:api", Action{}, false},
		{"perm:allow", Action{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := ParseAction(tt.id)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ParseAction(%q): got %+v %v, want %+v %v", tt.id, got, ok, tt.want, tt.ok)
			}
		})
	}
	if !IsControl("ctrl:refresh") || IsControl("perm:deny") {
		t.Fatal("IsControl")
	}
}

func TestBuildPanel(t *testing.T) {
	records := map[string]registry.Record{
		"1234567890": {WorktreePath: "/src/api/.claude/worktrees/a", ServerName: "personal"},
		"abc":        {WorktreePath: "/src/web/.claude/worktrees/b", ServerName: "personal"},
		"nowt":       {ServerName: "personal"},
		"elsewhere":  {WorktreePath: "/w/.claude/worktrees/c", ServerName: "work"},
	}
	p := BuildPanel(testServer(), map[string]bool{"api": true}, records, stamp)

	want := strings.Join([]string{
		"🎮 **Control Panel**",
		"",
		"**Projects**",
		"🟢 `api`: running",
		"⭕ `web`: stopped",
		"⭕ `docs`: stopped",
		"",
		"**Active Worktrees**",
		"• Thread 123456... → /src/api/.claude/worktrees/a",
		"• Thread abc... → /src/web/.claude/worktrees/b",
		"",
		"_Updated: 2026-03-04 05:06_",
	}, "\n")
	if p.Content != want {
		t.Fatalf("content:\n%s\nwant:\n%s", p.Content, want)
	}

	if len(p.Rows) != 1 || len(p.Rows[0]) != 4 {
		t.Fatalf("rows: %+v", p.Rows)
	}
	wantButtons := []chat.Button{
		{ID: "ctrl:stop:api", Label: "🛑 Stop api", Style: chat.StyleDanger},
		{ID: "ctrl:start:web", Label: "▶ Start web", Style: chat.StyleSuccess},
		{ID: "ctrl:start:docs", Label: "▶ Start docs", Style: chat.StyleSuccess},
		{ID: "ctrl:refresh", Label: "🔄 Refresh", Style: chat.StyleSecondary},
	}
	for i, b := range wantButtons {
		if p.Rows[0][i] != b {
			t.Errorf("button %d: got %+v, want %+v", i, p.Rows[0][i], b)
		}
	}
}

func TestBuildPanelCapsProjectButtons(t *testing.T) {
	s := &config.Server{Name: "big", Tmux: config.Tmux{Session: "s"}}
	for i := range 30 {
		s.Projects = append(s.Projects, config.Project{Name: fmt.Sprintf("p%02d", i)})
	}
	p := BuildPanel(s, nil, nil, stamp)

	if len(p.Rows) != 5 {
		t.Fatalf("rows: got %d, want 5", len(p.Rows))
	}
	total := 0
	for _, row := range p.Rows {
		if len(row) > 5 {
			t.Fatalf("row too wide: %d", len(row))
		}
		total += len(row)
	}
	if total != 25 {
		t.Fatalf("buttons: got %d, want 25", total)
	}
	if last := p.Rows[4][4]; last.ID != "ctrl:refresh" {
		t.Fatalf("last button: %+v", last)
	}
	if !strings.Contains(p.Content, "_… and 6 more (not shown)_") {
		t.Fatalf("content missing overflow line:\n%s", p.Content)
	}
	if strings.Contains(p.Content, "Active Worktrees") {
		t.Fatal("worktree section shown without worktrees")
	}
}

func TestStartAndStop(t *testing.T) {
	w := &fakeWindows{windows: map[string]bool{}}
	rec := &fakeRecorder{}
	c := newController(w, rec, staticRecords{})
	ctx := context.Background()

	if err := c.Start(ctx, "api"); err != nil {
		t.Fatal(err)
	}
	want := `bridge:api cd "/src/api" && claude --model "sonnet" --dangerously-skip-permissions`
	if len(w.created) != 1 || w.created[0] != want {
		t.Fatalf("created: %v", w.created)
	}
	if err := c.Start(ctx, "api"); err != nil || len(w.created) != 1 {
		t.Fatalf("running window restarted: %v %v", err, w.created)
	}
	if err := c.Start(ctx, "nope"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("unknown project: %v", err)
	}

	if err := c.Stop(ctx, "api"); err != nil {
		t.Fatal(err)
	}
	if len(w.killed) != 1 || w.killed[0] != "bridge:api" {
		t.Fatalf("killed: %v", w.killed)
	}
	if got := strings.Join(rec.types, ","); got != "window_started:api,window_stopped:api" {
		t.Fatalf("events: %s", got)
	}
}

func TestAutoStartProjectsStartsOnly(t *testing.T) {
	w := &fakeWindows{windows: map[string]bool{"web": true, "docs": true}}
	c := newController(w, &fakeRecorder{}, staticRecords{})

	started := c.AutoStartProjects(context.Background())
	if len(started) != 1 || started[0] != "api" {
		t.Fatalf("started: %v", started)
	}
	if len(w.killed) != 0 {
		t.Fatalf("non-startup window stopped: %v", w.killed)
	}
}

func TestAutoStartProjectsContinuesAfterFailure(t *testing.T) {
	w := &fakeWindows{windows: map[string]bool{}, newErr: errors.New("no session")}
	c := newController(w, &fakeRecorder{}, staticRecords{})

	if started := c.AutoStartProjects(context.Background()); len(started) != 0 {
		t.Fatalf("started: %v", started)
	}
}

func TestHandle(t *testing.T) {
	w := &fakeWindows{windows: map[string]bool{}}
	c := newController(w, &fakeRecorder{}, staticRecords{})
	ctx := context.Background()

	p, err := c.Handle(ctx, "ctrl:start:web")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.Content, "🟢 `web`: running") {
		t.Fatalf("panel after start:\n%s", p.Content)
	}

	p, err = c.Handle(ctx, "ctrl:stop:web")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.Content, "⭕ `web`: stopped") {
		t.Fatalf("panel after stop:\n%s", p.Content)
	}

	if _, err := c.Handle(ctx, "ctrl:start:ghost"); err != nil {
		t.Fatalf("failed start still renders the panel: %v", err)
	}
	if _, err := c.Handle(ctx, "ctrl:bogus"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestPanelToleratesListFailure(t *testing.T) {
	w := &fakeWindows{windows: map[string]bool{}, listErr: errors.New("no server")}
	c := newController(w, &fakeRecorder{}, staticRecords{})

	p := c.Panel(context.Background())
	if strings.Contains(p.Content, "🟢") {
		t.Fatalf("nothing should be running:\n%s", p.Content)
	}
}
