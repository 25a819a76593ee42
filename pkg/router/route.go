package router

import (
	"context"
	"errors"

	"chatmux/pkg/config"
	"chatmux/pkg/protocol"
	"chatmux/pkg/registry"
)

// Message is an inbound chat message as seen by the router.
type Message struct {
	ChannelID string
	// ParentID is the parent channel when ChannelID is a thread.
	ParentID   string
	ThreadName string
	Text       string
	// Prepare, when set, runs on the delivery lane before sending and
	// returns the text to send (attachment download).
	Prepare func(ctx context.Context) string
}

func (m Message) body(ctx context.Context) string {
	if m.Prepare != nil {
		return m.Prepare(ctx)
	}
	return m.Text
}

// Route decides where msg goes and queues its delivery. It returns nil for
// messages outside any project.
func (r *Router) Route(msg Message) *Delivery {
	if p, ok := r.srv().ProjectByChannel(msg.ChannelID); ok {
		r.track(p.ChannelID, "")
		d := newDelivery(KindPrimary, "", p.ChannelID)
		r.submit(primaryLane(p.ChannelID), d, func(ctx context.Context) Outcome {
			return r.sendPrimary(ctx, p, msg.body(ctx))
		})
		return d
	}

	threadID := msg.ChannelID
	parentID := msg.ParentID
	r.mu.Lock()
	if parentID == "" {
		parentID = r.parents[threadID]
	}
	p, ok := r.srv().ProjectByChannel(parentID)
	if !ok {
		r.mu.Unlock()
		return nil
	}

	var d *Delivery
	var job func(ctx context.Context) Outcome
	var lane string
	if rec, live := r.sessions[threadID]; live {
		d = newDelivery(KindThread, threadID, parentID)
		lane = threadLane(threadID)
		job = func(ctx context.Context) Outcome {
			return r.sendThread(ctx, p, threadID, rec.PaneID, msg.body(ctx))
		}
	} else if _, busy := r.provisioning[threadID]; busy {
		d = newDelivery(KindFallback, threadID, parentID)
		lane = primaryLane(parentID)
		job = func(ctx context.Context) Outcome {
			r.record(ctx, protocol.EventFallback, threadID, "", "provisioning")
			o := r.sendPrimary(ctx, p, msg.body(ctx))
			o.Fallback = true
			return o
		}
	} else {
		r.provisioning[threadID] = struct{}{}
		r.parents[threadID] = parentID
		d = newDelivery(KindProvision, threadID, parentID)
		lane = threadLane(threadID)
		job = func(ctx context.Context) Outcome {
			return r.provisionAndSend(ctx, p, threadID, msg)
		}
	}
	r.mu.Unlock()

	r.track(parentID, threadID)
	r.submit(lane, d, job)
	return d
}

// SendDirect sends text (a button answer) to the pane of channelID when it
// is a live thread, else to the project window of its resolved parent,
// else to the session's first window.
func (r *Router) SendDirect(channelID, parentHint, text string) *Delivery {
	r.mu.Lock()
	rec, live := r.sessions[channelID]
	r.mu.Unlock()

	if live {
		d := newDelivery(KindDirect, channelID, rec.ParentChannelID)
		r.submit(threadLane(channelID), d, func(ctx context.Context) Outcome {
			return Outcome{Target: rec.PaneID, Err: r.opts.Terminal.Send(ctx, rec.PaneID, text)}
		})
		return d
	}

	parent := r.ResolveParent(channelID, parentHint)
	d := newDelivery(KindDirect, "", parent)
	target := r.defaultTarget()
	if p, ok := r.srv().ProjectByChannel(parent); ok {
		target = r.primaryTarget(p)
	}
	r.submit(primaryLane(parent), d, func(ctx context.Context) Outcome {
		return Outcome{Target: target, Err: r.opts.Terminal.Send(ctx, target, text)}
	})
	return d
}

func (r *Router) submit(lane string, d *Delivery, job func(ctx context.Context) Outcome) {
	ok := r.lanes.submit(lane, func() { d.finish(job(r.ctx)) })
	if !ok {
		if d.Kind == KindProvision {
			r.mu.Lock()
			delete(r.provisioning, d.ThreadID)
			r.mu.Unlock()
		}
		d.finish(Outcome{Err: ErrClosed})
	}
}

func (r *Router) sendPrimary(ctx context.Context, p *config.Project, text string) Outcome {
	target := r.primaryTarget(p)
	err := r.opts.Terminal.Send(ctx, target, text)
	if err != nil {
		r.logger.Error("send to project window failed", "project", p.Name, "target", target, "err", err)
	}
	return Outcome{Target: target, Err: err}
}

// sendThread sends to a thread pane. On failure the session is evicted from
// memory, the registry record is left for the next Reconcile, and the text
// goes to the project window instead.
func (r *Router) sendThread(ctx context.Context, p *config.Project, threadID, paneID, text string) Outcome {
	err := r.opts.Terminal.Send(ctx, paneID, text)
	if err == nil {
		return Outcome{Target: paneID}
	}
	r.logger.Warn("pane send failed, evicting", "thread", threadID, "pane", paneID, "err", err)
	r.evict(threadID, paneID)
	r.record(ctx, protocol.EventPaneEvicted, threadID, paneID, err.Error())

	o := r.sendPrimary(ctx, p, text)
	o.Fallback = true
	if o.Err != nil {
		o.Err = errors.Join(err, o.Err)
	}
	return o
}

// evict drops threadID from memory if it still points at paneID.
func (r *Router) evict(threadID, paneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sessions[threadID]; ok && rec.PaneID == paneID {
		delete(r.sessions, threadID)
	}
}

// admit puts rec into the in-memory tables.
func (r *Router) admit(threadID string, rec registry.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[threadID] = rec
	r.parents[threadID] = rec.ParentChannelID
}
