package router

import (
	"context"
	"time"

	"chatmux/pkg/protocol"
)

// WorktreeGoneNotice is posted in a thread whose worktree disappeared.
const WorktreeGoneNotice = "✅ Worktree removed. Please archive this thread."

// Run sweeps for vanished worktrees every SweepInterval until ctx ends.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce clears worktreePath on every live session whose worktree no
// longer exists on disk and tells the thread. It returns the affected
// thread ids.
func (r *Router) SweepOnce(ctx context.Context) []string {
	r.mu.Lock()
	var gone []string
	for id, rec := range r.sessions {
		if rec.WorktreePath != "" && !r.opts.Exists(rec.WorktreePath) {
			gone = append(gone, id)
			rec.WorktreePath = ""
			r.sessions[id] = rec
		}
	}
	r.mu.Unlock()

	for _, id := range gone {
		if err := r.reg.UpdateWorktreePath(id, ""); err != nil {
			r.logger.Error("clear worktree path", "thread", id, "err", err)
		}
		r.logger.Info("worktree vanished", "thread", id)
		r.record(ctx, protocol.EventWorktreeVanished, id, "", "")
		r.notify(ctx, id, WorktreeGoneNotice)
	}
	return gone
}
