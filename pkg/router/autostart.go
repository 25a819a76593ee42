package router

import "context"

// AutoStartThreads provisions a pane for every thread marked startup that
// has no live session. It returns the started thread ids.
func (r *Router) AutoStartThreads(ctx context.Context) []string {
	var started []string
	s := r.srv()
	for i := range s.Projects {
		p := &s.Projects[i]
		for _, t := range p.StartupThreads() {
			if !r.claim(t.ChannelID) {
				continue
			}
			rec, resolved, err := r.startSession(ctx, p, t.ChannelID)
			if err != nil {
				r.mu.Lock()
				delete(r.provisioning, t.ChannelID)
				r.mu.Unlock()
				r.logger.Error("auto-start thread", "thread", t.ChannelID, "name", t.Name, "err", err)
				continue
			}
			r.commit(ctx, t.ChannelID, rec)
			if resolved.Worktree() {
				r.startLocator(t.ChannelID, resolved.ProjectPath)
			}
			started = append(started, t.ChannelID)
		}
	}
	return started
}

// claim marks threadID as provisioning unless it is live or already
// being provisioned.
func (r *Router) claim(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.sessions[threadID]; live {
		return false
	}
	if _, busy := r.provisioning[threadID]; busy {
		return false
	}
	r.provisioning[threadID] = struct{}{}
	return true
}
