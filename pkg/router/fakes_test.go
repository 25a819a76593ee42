package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"chatmux/pkg/config"
	"chatmux/pkg/registry"
	"chatmux/pkg/tmux"
	"chatmux/pkg/worktree"
)

// journal is an ordered log shared by fakes so tests can assert ordering
// across collaborators.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) index(entry string) int {
	for i, e := range j.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

type sent struct{ target, text string }

type split struct{ window, cmd string }

type fakeTerminal struct {
	j *journal

	mu        sync.Mutex
	next      int
	panes     map[string]bool
	splits    []split
	sends     []sent
	killed    []string
	waits     []string
	splitErr  error
	sendErr   map[string]error
	listErr   error
	splitGate chan struct{}
	ready     bool
}

func newFakeTerminal(j *journal) *fakeTerminal {
	return &fakeTerminal{j: j, panes: make(map[string]bool), sendErr: make(map[string]error), ready: true}
}

func (f *fakeTerminal) SplitPane(_ context.Context, window, cmd string) (string, error) {
	f.mu.Lock()
	gate := f.splitGate
	f.splits = append(f.splits, split{window, cmd})
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.splitErr != nil {
		return "", f.splitErr
	}
	f.next++
	id := fmt.Sprintf("%%%d", f.next)
	f.panes[id] = true
	f.j.add("split %s", id)
	return id, nil
}

func (f *fakeTerminal) Send(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[target]; err != nil {
		return err
	}
	f.sends = append(f.sends, sent{target, text})
	f.j.add("send %s %s", target, text)
	return nil
}

func (f *fakeTerminal) KillPane(_ context.Context, paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, paneID)
	f.j.add("kill %s", paneID)
	if !f.panes[paneID] {
		return fmt.Errorf("tmux kill-pane: %w", tmux.ErrPaneGone)
	}
	delete(f.panes, paneID)
	return nil
}

func (f *fakeTerminal) ListPanes(context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]bool, len(f.panes))
	for k, v := range f.panes {
		out[k] = v
	}
	return out, nil
}

func (f *fakeTerminal) WaitReady(_ context.Context, target string, _, _ time.Duration, _ tmux.ReadyFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, target)
	f.j.add("wait %s", target)
	return f.ready
}

func (f *fakeTerminal) splitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.splits)
}

func (f *fakeTerminal) sentTo(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sends {
		if s.target == target {
			out = append(out, s.text)
		}
	}
	return out
}

type fakeWorktrees struct {
	j *journal

	mu      sync.Mutex
	lists   map[string][]string
	status  map[string]string
	removed []string
}

func newFakeWorktrees(j *journal) *fakeWorktrees {
	return &fakeWorktrees{j: j, lists: make(map[string][]string), status: make(map[string]string)}
}

func (f *fakeWorktrees) List(_ context.Context, repo string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[repo]...), nil
}

func (f *fakeWorktrees) Remove(_ context.Context, repo, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	f.j.add("remove %s", path)
	return nil
}

func (f *fakeWorktrees) Status(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[path], nil
}

// listLocator returns the first path of its list that known() does not
// contain. The first parties calls meet at barrier so concurrent locates
// overlap.
type listLocator struct {
	paths   []string
	barrier *sync.WaitGroup
	parties int

	mu    sync.Mutex
	calls int
}

func (l *listLocator) Locate(_ context.Context, _ string, known worktree.KnownFunc) (string, bool) {
	l.mu.Lock()
	l.calls++
	meet := l.barrier != nil && l.calls <= l.parties
	l.mu.Unlock()
	if meet {
		l.barrier.Done()
		l.barrier.Wait()
	}
	k := known()
	for _, p := range l.paths {
		if _, ok := k[p]; !ok {
			return p, true
		}
	}
	return "", false
}

type note struct{ channel, text string }

type fakeNotifier struct {
	j *journal

	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) Send(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{channelID, text})
	f.j.add("notify %s", channelID)
	return nil
}

func (f *fakeNotifier) all() []note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]note(nil), f.notes...)
}

type fakeTracker struct {
	mu      sync.Mutex
	markers map[string]string
}

func (f *fakeTracker) WriteThreadTracking(parent, thread string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers[parent] = thread
	return nil
}

func (f *fakeTracker) ClearThreadTracking(parent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.markers, parent)
	return nil
}

func (f *fakeTracker) get(parent string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.markers[parent]
	return v, ok
}

type fakeThreads struct {
	mu       sync.Mutex
	appended []config.Thread
}

func (f *fakeThreads) AppendThread(_, _ string, t config.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, t)
	return nil
}

func (f *fakeThreads) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type fixture struct {
	j         *journal
	server    *config.Server
	reg       *registry.Registry
	term      *fakeTerminal
	wts       *fakeWorktrees
	notifier  *fakeNotifier
	tracker   *fakeTracker
	threads   *fakeThreads
	locator   Locator
	exists    map[string]bool
	existsMu  sync.Mutex
	otherSrvs []string
}

func testServer() *config.Server {
	return &config.Server{
		Name: "personal",
		Tmux: config.Tmux{Session: "bridge"},
		Projects: []config.Project{
			{
				Name: "api", ChannelID: "111", ProjectPath: "/src/api", Model: "sonnet",
				Permission: config.PermissionBypass, Isolation: config.IsolationWorktree,
			},
			{
				Name: "web", ChannelID: "444", ProjectPath: "/src/web", Model: "haiku",
				Threads: []config.Thread{{Name: "triage", ChannelID: "t-static", Startup: true}},
			},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := &journal{}
	return &fixture{
		j:        j,
		server:   testServer(),
		reg:      registry.Open(filepath.Join(t.TempDir(), "sessions.json"), log.New(discard{})),
		term:     newFakeTerminal(j),
		wts:      newFakeWorktrees(j),
		notifier: &fakeNotifier{j: j},
		tracker:  &fakeTracker{markers: make(map[string]string)},
		threads:  &fakeThreads{},
		exists:   make(map[string]bool),
	}
}

func (f *fixture) setExists(path string, ok bool) {
	f.existsMu.Lock()
	defer f.existsMu.Unlock()
	f.exists[path] = ok
}

func (f *fixture) router(t *testing.T) *Router {
	t.Helper()
	r := New(Options{
		Server:      f.server,
		Registry:    f.reg,
		Terminal:    f.term,
		Worktrees:   f.wts,
		Locator:     f.locator,
		Notifier:    f.notifier,
		Threads:     f.threads,
		Tracker:     f.tracker,
		Logger:      log.New(discard{}),
		KnownScopes: append([]string{f.server.Name}, f.otherSrvs...),
		Exists: func(path string) bool {
			f.existsMu.Lock()
			defer f.existsMu.Unlock()
			return f.exists[path]
		},
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	t.Cleanup(r.Close)
	return r
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func wait(t *testing.T, d *Delivery) Outcome {
	t.Helper()
	if d == nil {
		t.Fatal("expected a delivery, got nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := d.Wait(ctx)
	if err != nil {
		t.Fatalf("delivery did not complete: %v", err)
	}
	return o
}

var errBoom = errors.New("boom")
