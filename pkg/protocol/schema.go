package protocol

// SchemaDDL defines the SQLite schema for the chatmux event log.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Session lifecycle events: provisioning, fallbacks, teardown, reconciliation
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    thread_id TEXT,
    pane_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS events_thread_idx ON events(thread_id);
CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);
`

// Event types written to the events table.
const (
	EventProvisioned      = "provisioned"
	EventProvisionFailed  = "provision_failed"
	EventFallback         = "fallback"
	EventPaneEvicted      = "pane_evicted"
	EventTeardown         = "teardown"
	EventWorktreeDirty    = "worktree_dirty"
	EventWorktreeLocated  = "worktree_located"
	EventWorktreeVanished = "worktree_vanished"
	EventRestored         = "restored"
	EventDiscarded        = "discarded"
	EventOrphanWorktree   = "orphan_worktree"
	EventWindowStarted    = "window_started"
	EventWindowStopped    = "window_stopped"
)
