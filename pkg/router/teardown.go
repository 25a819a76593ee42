package router

import (
	"context"
	"errors"
	"fmt"

	"chatmux/pkg/protocol"
	"chatmux/pkg/tmux"
)

// Archive queues Teardown of threadID behind the thread's pending
// deliveries.
func (r *Router) Archive(threadID string) *Delivery {
	d := newDelivery(KindTeardown, threadID, "")
	r.submit(threadLane(threadID), d, func(ctx context.Context) Outcome {
		return Outcome{Err: r.Teardown(ctx, threadID)}
	})
	return d
}

// Teardown kills the thread's pane and removes its worktree, warning the
// project channel first when the worktree has uncommitted changes. A
// thread with no live or persisted record is a no-op.
func (r *Router) Teardown(ctx context.Context, threadID string) error {
	r.mu.Lock()
	rec, ok := r.sessions[threadID]
	delete(r.sessions, threadID)
	delete(r.parents, threadID)
	r.mu.Unlock()
	if !ok {
		rec, ok = r.reg.Get(threadID)
		if !ok || rec.ServerName != r.srv().Name {
			return nil
		}
	}

	if err := r.opts.Terminal.KillPane(ctx, rec.PaneID); err != nil && !errors.Is(err, tmux.ErrPaneGone) {
		r.logger.Warn("kill thread pane", "thread", threadID, "pane", rec.PaneID, "err", err)
	}

	if rec.WorktreePath != "" {
		status, err := r.opts.Worktrees.Status(ctx, rec.WorktreePath)
		if err != nil {
			r.logger.Debug("worktree status", "path", rec.WorktreePath, "err", err)
		}
		if status != "" {
			r.notify(ctx, rec.ParentChannelID, fmt.Sprintf(
				"⚠️ Thread worktree has uncommitted changes:\n```\n%s\n```\nForce-removing the worktree.", status))
			r.record(ctx, protocol.EventWorktreeDirty, threadID, rec.PaneID, status)
		}
		if err := r.opts.Worktrees.Remove(ctx, rec.ProjectPath, rec.WorktreePath); err != nil {
			r.logger.Debug("remove worktree", "path", rec.WorktreePath, "err", err)
		}
	}

	r.record(ctx, protocol.EventTeardown, threadID, rec.PaneID, rec.WorktreePath)
	r.logger.Info("thread torn down", "thread", threadID, "pane", rec.PaneID)
	if err := r.reg.Remove(threadID); err != nil {
		return fmt.Errorf("teardown %s: %w", threadID, err)
	}
	return nil
}
