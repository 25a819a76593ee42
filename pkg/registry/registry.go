// Package registry persists thread session records so routing survives a
// restart. The store is a single JSON file rewritten atomically on every
// mutation; a missing or unreadable file loads as an empty table.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Record describes one thread session routed to its own tmux pane.
type Record struct {
	PaneID          string    `json:"paneId"`
	PaneStartedAt   time.Time `json:"paneStartedAt"`
	ParentChannelID string    `json:"parentChannelId"`
	WorktreePath    string    `json:"worktreePath,omitempty"`
	ProjectPath     string    `json:"projectPath"`
	ServerName      string    `json:"serverName"`
	CreatedAt       time.Time `json:"createdAt"`
	LaunchCmd       string    `json:"launchCmd"`
}

type stateFile struct {
	Threads map[string]Record `json:"threads"`
}

// Registry is a write-through, file-backed map of thread id to Record.
// It is safe for concurrent use; writes are serialized.
type Registry struct {
	mu      sync.Mutex
	path    string
	threads map[string]Record
	logger  *log.Logger
}

// Open loads the store at path. Load failures are logged and produce an
// empty registry.
func Open(path string, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{path: path, threads: make(map[string]Record), logger: logger}
	r.load()
	return r
}

// Path returns the backing file path.
func (r *Registry) Path() string { return r.path }

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("session store unreadable, starting empty", "path", r.path, "err", err)
		}
		return
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		r.logger.Warn("session store corrupt, starting empty", "path", r.path, "err", err)
		return
	}
	for id, rec := range sf.Threads {
		r.threads[id] = rec
	}
}

// save writes the full table to a temp file and renames it over the store.
// Callers hold r.mu.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(stateFile{Threads: r.threads}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("create session store dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create session store temp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write session store: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write session store: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace session store: %w", err)
	}
	return nil
}

// Get returns the record for threadID.
func (r *Registry) Get(threadID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.threads[threadID]
	return rec, ok
}

// All returns a copy of every record.
func (r *Registry) All() map[string]Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.threads)
}

// Set stores rec under threadID and persists the table.
func (r *Registry) Set(threadID string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[threadID] = rec
	return r.save()
}

// Remove deletes threadID and persists the table. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[threadID]; !ok {
		return nil
	}
	delete(r.threads, threadID)
	return r.save()
}

// UpdateWorktreePath sets (or, with "", clears) the worktree of an existing
// record. Unknown ids are ignored.
func (r *Registry) UpdateWorktreePath(threadID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.threads[threadID]
	if !ok {
		return nil
	}
	rec.WorktreePath = path
	r.threads[threadID] = rec
	return r.save()
}

// KnownWorktreePaths returns the set of worktree paths owned by any record.
func (r *Registry) KnownWorktreePaths() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := make(map[string]struct{})
	for _, rec := range r.threads {
		if rec.WorktreePath != "" {
			known[rec.WorktreePath] = struct{}{}
		}
	}
	return known
}
