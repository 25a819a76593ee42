package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"chatmux/pkg/protocol"
)

// Recorder appends events to the log. A nil *Recorder discards events.
type Recorder struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the event database at path with WAL
// journaling and a 5-second busy timeout, and applies the schema.
func Open(ctx context.Context, path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", protocol.SchemaDDL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &Recorder{db: db}, nil
}

// Record inserts e. ID and CreatedAt are assigned by the database.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (type, source, thread_id, pane_id, payload) VALUES (?, ?, ?, ?, ?)`,
		e.Type, e.Source, nullable(e.ThreadID), nullable(e.PaneID), nullable(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Type, err)
	}
	return nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
