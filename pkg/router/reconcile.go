package router

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"chatmux/pkg/protocol"
	"chatmux/pkg/registry"
)

// Action is what Reconcile does with one persisted record.
type Action string

// Reconciliation actions.
const (
	ActionKeep    Action = "keep"
	ActionRestore Action = "restore"
	ActionDiscard Action = "discard"
)

// Classify maps (worktree exists, pane exists) to an action. A live pane is
// kept whatever the worktree state; a worktree without a pane is restored;
// a record with neither is discarded.
func Classify(worktreeExists, paneExists bool) Action {
	switch {
	case paneExists:
		return ActionKeep
	case worktreeExists:
		return ActionRestore
	default:
		return ActionDiscard
	}
}

// Report summarizes a Reconcile pass.
type Report struct {
	Kept      []string
	Restored  []string
	Discarded []string
	// Failed are restores that could not create a pane; their records are
	// left in the registry.
	Failed []string
	// Orphans are worktrees under the isolation directory that no record
	// owns. They are reported, never deleted.
	Orphans []string
	// Err is set when the pane listing failed. This server's records are
	// then admitted unchanged as Kept and nothing is restored or discarded.
	Err error
}

// Reconcile rebuilds the in-memory tables from the registry against live
// tmux panes and worktrees on disk, then reports orphaned worktrees. It
// must run before Route is called.
func (r *Router) Reconcile(ctx context.Context) Report {
	var rep Report

	all := r.reg.All()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	panes, err := r.opts.Terminal.ListPanes(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("list panes: %w", err)
		for _, id := range ids {
			if rec := all[id]; rec.ServerName == r.srv().Name {
				r.admit(id, rec)
				rep.Kept = append(rep.Kept, id)
			}
		}
		r.logger.Warn("list panes failed, admitting records unchanged", "kept", len(rep.Kept), "err", err)
		return rep
	}

	for _, id := range ids {
		rec := all[id]
		if rec.ServerName != r.srv().Name {
			if !slices.Contains(r.opts.KnownScopes, rec.ServerName) {
				r.discard(ctx, id, rec, "unknown server")
				rep.Discarded = append(rep.Discarded, id)
			}
			continue
		}

		wtExists := rec.WorktreePath != "" && r.opts.Exists(rec.WorktreePath)
		switch Classify(wtExists, panes[rec.PaneID]) {
		case ActionKeep:
			r.admit(id, rec)
			rep.Kept = append(rep.Kept, id)
		case ActionRestore:
			if err := r.restore(ctx, id, rec); err != nil {
				r.logger.Error("restore thread pane", "thread", id, "err", err)
				rep.Failed = append(rep.Failed, id)
				continue
			}
			rep.Restored = append(rep.Restored, id)
		case ActionDiscard:
			r.discard(ctx, id, rec, "pane and worktree gone")
			rep.Discarded = append(rep.Discarded, id)
		}
	}

	rep.Orphans = r.orphanWorktrees(ctx)
	for _, path := range rep.Orphans {
		r.record(ctx, protocol.EventOrphanWorktree, "", "", path)
	}

	r.logger.Info("reconciled",
		"kept", len(rep.Kept), "restored", len(rep.Restored), "discarded", len(rep.Discarded),
		"failed", len(rep.Failed), "orphans", len(rep.Orphans))
	if text := rep.Summary(); text != "" {
		r.notify(ctx, r.opts.NotifyChannel, text)
	}
	return rep
}

// restore launches a fresh pane inside the record's existing worktree. The
// agent is started without -w so it reuses that worktree.
func (r *Router) restore(ctx context.Context, threadID string, rec registry.Record) error {
	p, ok := r.srv().ProjectByChannel(rec.ParentChannelID)
	if !ok {
		return fmt.Errorf("no project for channel %s", rec.ParentChannelID)
	}
	resolved := p.ResolveThread(threadID)
	cmd := BuildLaunchCommand(r.opts.AgentCommand, threadID, rec.WorktreePath, resolved.Model, resolved.Permission, false)
	paneID, err := r.opts.Terminal.SplitPane(ctx, r.primaryTarget(p), cmd)
	if err != nil {
		return err
	}
	rec.PaneID = paneID
	rec.PaneStartedAt = r.opts.Now()
	rec.LaunchCmd = cmd
	if err := r.reg.Set(threadID, rec); err != nil {
		r.logger.Error("persist restored record", "thread", threadID, "err", err)
	}
	r.admit(threadID, rec)
	r.logger.Info("thread pane restored", "thread", threadID, "pane", paneID, "worktree", rec.WorktreePath)
	r.record(ctx, protocol.EventRestored, threadID, paneID, rec.WorktreePath)
	return nil
}

func (r *Router) discard(ctx context.Context, threadID string, rec registry.Record, reason string) {
	if err := r.reg.Remove(threadID); err != nil {
		r.logger.Error("remove stale record", "thread", threadID, "err", err)
	}
	r.logger.Info("discarded session record", "thread", threadID, "record_server", rec.ServerName, "reason", reason)
	r.record(ctx, protocol.EventDiscarded, threadID, rec.PaneID, reason)
}

// orphanWorktrees lists isolated worktrees of every project that no record
// in the registry or in memory owns.
func (r *Router) orphanWorktrees(ctx context.Context) []string {
	known := r.knownWorktreePaths()
	seen := make(map[string]bool)
	var orphans []string
	for _, p := range r.srv().Projects {
		if seen[p.ProjectPath] {
			continue
		}
		seen[p.ProjectPath] = true
		paths, err := r.opts.Worktrees.List(ctx, p.ProjectPath)
		if err != nil {
			r.logger.Debug("list worktrees", "project", p.Name, "err", err)
			continue
		}
		for _, path := range paths {
			if _, ok := known[path]; !ok && !slices.Contains(orphans, path) {
				orphans = append(orphans, path)
			}
		}
	}
	return orphans
}

// Summary is the operator notification for the report, or "" when there
// is nothing to say.
func (rep Report) Summary() string {
	var parts []string
	if n := len(rep.Restored); n > 0 {
		parts = append(parts, fmt.Sprintf("🔄 Restored %d thread worktree(s) after restart", n))
	}
	if len(rep.Orphans) > 0 {
		lines := make([]string, 0, len(rep.Orphans)+1)
		lines = append(lines, "⚠️ Orphaned worktrees detected:")
		for _, p := range rep.Orphans {
			lines = append(lines, "  - "+p)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n")
}
