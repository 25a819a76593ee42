package dash

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"chatmux/pkg/config"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/registry"
)

type staticSource struct{ snap Snapshot }

func (s staticSource) Snapshot(context.Context) Snapshot { return s.snap }

type fakeWindows map[string]map[string]bool

func (f fakeWindows) ListWindows(_ context.Context, session string) (map[string]bool, error) {
	if w, ok := f[session]; ok {
		return w, nil
	}
	return nil, errors.New("no session " + session)
}

type fakeEvents []eventlog.Event

func (f fakeEvents) Query(_ context.Context, opts eventlog.QueryOpts) ([]eventlog.Event, error) {
	if opts.Limit < len(f) {
		return f[:opts.Limit], nil
	}
	return f, nil
}

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Sessions: map[string]registry.Record{
			"t-b": {ServerName: "work", PaneID: "%2", ProjectPath: "/src/b", CreatedAt: now.Add(-3 * time.Hour)},
			"t-a": {ServerName: "personal", PaneID: "%1", ProjectPath: "/src/a", WorktreePath: "/src/a/.claude/worktrees/x", CreatedAt: now.Add(-90 * time.Second)},
		},
		Windows: []WindowStatus{
			{Server: "personal", Project: "api", Running: true},
			{Server: "work", Project: "web"},
		},
		Events: []eventlog.Event{{Type: "provisioned", Source: "personal", ThreadID: "t-a", Payload: "line1\nline2", CreatedAt: now}},
	}
}

func loaded(t *testing.T, snap Snapshot) Model {
	t.Helper()
	m := New(staticSource{snap}, "")
	m.now = func() time.Time { return now }
	next, _ := m.Update(snapshotMsg(snap))
	return next.(Model)
}

func TestSnapshotPopulatesTable(t *testing.T) {
	m := loaded(t, sampleSnapshot())

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows: %v", rows)
	}
	if rows[0][0] != "t-a" || rows[0][4] != "/src/a/.claude/worktrees/x" || rows[0][5] != "1m" {
		t.Fatalf("first row: %v", rows[0])
	}
	if rows[1][0] != "t-b" || rows[1][4] != "-" || rows[1][5] != "3h" {
		t.Fatalf("second row: %v", rows[1])
	}
}

func TestViewShowsWindowsAndSessions(t *testing.T) {
	view := loaded(t, sampleSnapshot()).View()

	for _, want := range []string{"2 thread session(s)", "api", "● running", "○ stopped", "Thread sessions", "t-a"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestTabSwitchesToEvents(t *testing.T) {
	m := loaded(t, sampleSnapshot())

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.activeView != EventsView {
		t.Fatalf("active view: %v", m.activeView)
	}
	view := m.View()
	if !strings.Contains(view, "Recent events") || !strings.Contains(view, "line1 line2") {
		t.Fatalf("events view:\n%s", view)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if next.(Model).activeView != SessionsView {
		t.Fatal("tab should toggle back")
	}
}

func TestQuitKey(t *testing.T) {
	m := loaded(t, Snapshot{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}
}

func TestEmptyAndErrorStates(t *testing.T) {
	view := loaded(t, Snapshot{Err: errors.New("tmux not running")}).View()
	for _, want := range []string{"No thread sessions", "No projects configured", "error: tmux not running"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestTickAndFileChangeReload(t *testing.T) {
	m := loaded(t, Snapshot{})
	if _, cmd := m.Update(tickMsg(now)); cmd == nil {
		t.Fatal("tick should schedule a reload")
	}
	if _, cmd := m.Update(fsChangeMsg{}); cmd == nil {
		t.Fatal("file change should schedule a reload")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	reg := registry.Open(path, nil)
	if err := reg.Set("t1", registry.Record{PaneID: "%1", ServerName: "personal"}); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{Servers: []config.Server{
		{Name: "personal", Tmux: config.Tmux{Session: "bridge"}, Projects: []config.Project{{Name: "api"}, {Name: "web"}}},
		{Name: "work", Tmux: config.Tmux{Session: "missing"}, Projects: []config.Project{{Name: "ops"}}},
	}}
	src := &FileSource{
		Config:       cfg,
		RegistryPath: path,
		Windows:      fakeWindows{"bridge": {"api": true}},
		Events:       fakeEvents{{Type: "a"}, {Type: "b"}, {Type: "c"}},
		EventLimit:   2,
	}

	snap := src.Snapshot(context.Background())
	if _, ok := snap.Sessions["t1"]; !ok {
		t.Fatalf("sessions: %v", snap.Sessions)
	}
	want := []WindowStatus{
		{Server: "personal", Project: "api", Running: true},
		{Server: "personal", Project: "web"},
		{Server: "work", Project: "ops"},
	}
	if len(snap.Windows) != len(want) {
		t.Fatalf("windows: %+v", snap.Windows)
	}
	for i := range want {
		if snap.Windows[i] != want[i] {
			t.Errorf("window %d: got %+v, want %+v", i, snap.Windows[i], want[i])
		}
	}
	if len(snap.Events) != 2 {
		t.Fatalf("events: %v", snap.Events)
	}
	if snap.Err == nil {
		t.Fatal("missing session should surface an error")
	}
}

func TestWatcherReportsRegistryChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	w := newWatcher(path)
	if w == nil {
		t.Fatal("watcher not created")
	}
	defer w.close()

	got := make(chan tea.Msg, 1)
	go func() { got <- w.next()() }()
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		if _, ok := msg.(fsChangeMsg); !ok {
			t.Fatalf("got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestNewWatcherMissingDir(t *testing.T) {
	if w := newWatcher(filepath.Join(t.TempDir(), "nope", "sessions.json")); w != nil {
		t.Fatal("expected nil watcher for missing directory")
	}
}

func TestAge(t *testing.T) {
	tests := map[time.Duration]string{
		30 * time.Second: "30s",
		5 * time.Minute:  "5m",
		30 * time.Hour:   "30h",
		72 * time.Hour:   "3d",
	}
	for d, want := range tests {
		if got := age(d); got != want {
			t.Errorf("age(%v): got %s, want %s", d, got, want)
		}
	}
}
