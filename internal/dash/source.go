package dash

import (
	"cmp"
	"context"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"chatmux/pkg/config"
	"chatmux/pkg/eventlog"
	"chatmux/pkg/registry"
)

// WindowStatus is the state of one project window.
type WindowStatus struct {
	Server  string
	Project string
	Running bool
}

// Snapshot is everything the dashboard shows at one point in time.
type Snapshot struct {
	Sessions map[string]registry.Record
	Windows  []WindowStatus
	Events   []eventlog.Event
	Err      error
}

// Source produces snapshots.
type Source interface {
	Snapshot(ctx context.Context) Snapshot
}

// Windows lists tmux windows. *tmux.Client implements it.
type Windows interface {
	ListWindows(ctx context.Context, session string) (map[string]bool, error)
}

// Events queries the event log. *eventlog.Reader implements it.
type Events interface {
	Query(ctx context.Context, opts eventlog.QueryOpts) ([]eventlog.Event, error)
}

// FileSource reads the registry file, the tmux windows of every configured
// server and the newest events.
type FileSource struct {
	Config       *config.Config
	RegistryPath string
	Windows      Windows
	// Events may be nil when no event log exists yet.
	Events     Events
	EventLimit int
}

// Snapshot implements Source.
func (s *FileSource) Snapshot(ctx context.Context) Snapshot {
	var snap Snapshot
	snap.Sessions = registry.Open(s.RegistryPath, log.New(io.Discard)).All()

	for _, srv := range s.Config.Servers {
		running, err := s.Windows.ListWindows(ctx, srv.Tmux.Session)
		if err != nil {
			snap.Err = err
		}
		for _, p := range srv.Projects {
			snap.Windows = append(snap.Windows, WindowStatus{Server: srv.Name, Project: p.Name, Running: running[p.Name]})
		}
	}

	if s.Events != nil {
		limit := s.EventLimit
		if limit <= 0 {
			limit = 20
		}
		events, err := s.Events.Query(ctx, eventlog.QueryOpts{Limit: limit})
		if err != nil {
			snap.Err = err
		}
		snap.Events = events
	}
	return snap
}

// sortedThreadIDs orders sessions by server, then creation time.
func sortedThreadIDs(sessions map[string]registry.Record) []string {
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		ra, rb := sessions[a], sessions[b]
		return cmp.Or(
			strings.Compare(ra.ServerName, rb.ServerName),
			ra.CreatedAt.Compare(rb.CreatedAt),
			strings.Compare(a, b),
		)
	})
	return ids
}
