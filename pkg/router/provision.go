package router

import (
	"context"
	"fmt"

	"chatmux/pkg/config"
	"chatmux/pkg/protocol"
	"chatmux/pkg/registry"
)

// maxClaims bounds how often a located worktree may be lost to a
// concurrent claim before discovery gives up.
const maxClaims = 3

// provisionAndSend creates the thread pane for msg, commits its record,
// waits for the agent and delivers the message. Any failure before the
// record is committed falls back to the project window and keeps nothing.
func (r *Router) provisionAndSend(ctx context.Context, p *config.Project, threadID string, msg Message) Outcome {
	rec, resolved, err := r.startSession(ctx, p, threadID)
	if err != nil {
		r.mu.Lock()
		delete(r.provisioning, threadID)
		delete(r.parents, threadID)
		r.mu.Unlock()
		r.logger.Error("provision thread pane failed", "thread", threadID, "project", p.Name, "err", err)
		r.record(ctx, protocol.EventProvisionFailed, threadID, "", err.Error())
		o := r.sendPrimary(ctx, p, msg.body(ctx))
		o.Fallback = true
		return o
	}
	r.commit(ctx, threadID, rec)
	r.persistThread(p, threadID, msg.ThreadName, resolved)
	if resolved.Worktree() {
		r.startLocator(threadID, resolved.ProjectPath)
	}

	ready := r.opts.Terminal.WaitReady(ctx, rec.PaneID, r.opts.ReadyTimeout, r.opts.ReadyInterval, r.opts.Ready)
	if !ready {
		r.logger.Warn("agent not ready before timeout, sending anyway", "thread", threadID, "pane", rec.PaneID)
	}
	return r.sendThread(ctx, p, threadID, rec.PaneID, msg.body(ctx))
}

// startSession splits a new pane in the project window and launches the
// agent with the thread's resolved settings.
func (r *Router) startSession(ctx context.Context, p *config.Project, threadID string) (registry.Record, config.Resolved, error) {
	resolved := p.ResolveThread(threadID)
	cmd := BuildLaunchCommand(r.opts.AgentCommand, threadID, resolved.ProjectPath, resolved.Model, resolved.Permission, resolved.Worktree())
	paneID, err := r.opts.Terminal.SplitPane(ctx, r.primaryTarget(p), cmd)
	if err != nil {
		return registry.Record{}, resolved, fmt.Errorf("split pane for thread %s: %w", threadID, err)
	}
	now := r.opts.Now()
	return registry.Record{
		PaneID:          paneID,
		PaneStartedAt:   now,
		ParentChannelID: p.ChannelID,
		ProjectPath:     resolved.ProjectPath,
		ServerName:      r.srv().Name,
		CreatedAt:       now,
		LaunchCmd:       cmd,
	}, resolved, nil
}

// commit persists rec, admits it to memory and clears the provisioning
// marker, in that order.
func (r *Router) commit(ctx context.Context, threadID string, rec registry.Record) {
	if err := r.reg.Set(threadID, rec); err != nil {
		r.logger.Error("persist session record", "thread", threadID, "err", err)
	}
	r.mu.Lock()
	r.sessions[threadID] = rec
	r.parents[threadID] = rec.ParentChannelID
	delete(r.provisioning, threadID)
	r.mu.Unlock()

	r.logger.Info("thread pane provisioned", "thread", threadID, "pane", rec.PaneID)
	r.record(ctx, protocol.EventProvisioned, threadID, rec.PaneID, rec.LaunchCmd)
}

func (r *Router) persistThread(p *config.Project, threadID, name string, resolved config.Resolved) {
	if r.opts.Threads == nil {
		return
	}
	if name == "" {
		name = threadID
	}
	err := r.opts.Threads.AppendThread(r.srv().Name, p.ChannelID, config.Thread{
		Name:        name,
		ChannelID:   threadID,
		Model:       resolved.Model,
		ProjectPath: resolved.ProjectPath,
		Permission:  resolved.Permission,
		Isolation:   resolved.Isolation,
	})
	if err != nil {
		r.logger.Warn("append thread to config", "thread", threadID, "err", err)
	}
}

// startLocator discovers the thread's worktree in the background and
// records it.
func (r *Router) startLocator(threadID, projectPath string) {
	if r.opts.Locator == nil {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		r.locate(r.ctx, threadID, projectPath)
	}()
}

// locate claims the first unknown worktree for threadID. The claim is
// checked against a fresh known set under the router lock, so two threads
// of one project never end up with the same path.
func (r *Router) locate(ctx context.Context, threadID, projectPath string) {
	for range maxClaims {
		path, ok := r.opts.Locator.Locate(ctx, projectPath, r.knownWorktreePaths)
		if !ok {
			r.logger.Info("no worktree found for thread", "thread", threadID, "project_path", projectPath)
			return
		}

		r.mu.Lock()
		if _, taken := r.knownWorktreePathsLocked()[path]; taken {
			r.mu.Unlock()
			r.logger.Debug("worktree claimed concurrently, retrying", "thread", threadID, "path", path)
			continue
		}
		rec, live := r.sessions[threadID]
		if !live {
			r.mu.Unlock()
			return
		}
		rec.WorktreePath = path
		r.sessions[threadID] = rec
		r.mu.Unlock()

		if err := r.reg.UpdateWorktreePath(threadID, path); err != nil {
			r.logger.Error("persist worktree path", "thread", threadID, "err", err)
		}
		r.logger.Info("worktree located", "thread", threadID, "path", path)
		r.record(ctx, protocol.EventWorktreeLocated, threadID, rec.PaneID, path)
		return
	}
}
