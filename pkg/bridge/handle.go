package bridge

import (
	"context"
	"strings"

	"chatmux/pkg/attach"
	"chatmux/pkg/chat"
	"chatmux/pkg/control"
	"chatmux/pkg/ipc"
	"chatmux/pkg/protocol"
	"chatmux/pkg/router"
)

// Interaction ids and replies.
const (
	OtherID        = protocol.OtherButtonID
	permPrefix     = protocol.PermissionPrefix
	Unauthorized   = "Unauthorized"
	TypeAnswer     = "📝 Please type your answer"
	AllowedReply   = "✅ Allowed"
	DeniedReply    = "❌ Denied"
	ReasonReply    = "📝 Please enter your reason"
	selectedStatus = "✅ Selected: "
	failedStatus   = "❌ Send failed: "
)

// Handle processes one chat event. It returns the routed delivery, if any.
func (b *Bridge) Handle(ctx context.Context, ev chat.Event) *router.Delivery {
	if !ev.Valid() {
		b.logger.Debug("ignoring malformed event", "kind", ev.Kind)
		return nil
	}
	switch ev.Kind {
	case chat.KindMessage:
		return b.handleMessage(ctx, ev.Message)
	case chat.KindInteraction:
		return b.handleInteraction(ctx, ev.Interaction)
	case chat.KindThreadUpdate:
		if ev.Thread.Archived {
			return b.router.Archive(ev.Thread.ThreadID)
		}
	}
	return nil
}

func (b *Bridge) isOwner(userID string) bool {
	return userID != "" && userID == b.server.Chat.OwnerUserID
}

func (b *Bridge) handleMessage(ctx context.Context, m *chat.Message) *router.Delivery {
	if m.Bot || !b.isOwner(m.AuthorID) {
		return nil
	}

	if b.server.GeneralChannelID != "" && m.ChannelID == b.server.GeneralChannelID {
		if err := b.sink.ShowPanel(ctx, m.ChannelID, b.control.Panel(ctx)); err != nil {
			b.logger.Warn("post control panel", "channel", m.ChannelID, "err", err)
		}
		return nil
	}

	msg := router.Message{
		ChannelID:  m.ChannelID,
		ParentID:   m.ParentID,
		ThreadName: m.ThreadName,
		Text:       m.Text,
	}
	if len(m.Attachments) > 0 && b.opts.Fetcher != nil {
		files := m.Attachments
		msg.Prepare = func(ctx context.Context) string {
			paths, err := b.opts.Fetcher.DownloadAll(ctx, files)
			if err != nil {
				b.logger.Error("download attachments", "channel", m.ChannelID, "err", err)
				if err := b.sink.Send(ctx, m.ChannelID, attach.FailureNotice); err != nil {
					b.logger.Debug("attachment failure notice", "err", err)
				}
				return m.Text
			}
			return attach.BuildMessage(m.Text, paths)
		}
	}

	d := b.router.Route(msg)
	if d == nil {
		b.logger.Debug("message outside any project", "channel", m.ChannelID)
	}
	return d
}

func (b *Bridge) handleInteraction(ctx context.Context, in *chat.Interaction) *router.Delivery {
	if !b.isOwner(in.UserID) {
		b.reply(ctx, in.ID, Unauthorized, true)
		return nil
	}

	switch {
	case control.IsControl(in.CustomID):
		panel, err := b.control.Handle(ctx, in.CustomID)
		if err != nil {
			b.logger.Warn("control interaction", "id", in.CustomID, "err", err)
			return nil
		}
		if err := b.sink.Update(ctx, in.ID, panel); err != nil {
			b.logger.Warn("update control panel", "err", err)
		}
		return nil

	case in.CustomID == OtherID:
		if err := b.sink.Update(ctx, in.ID, chat.Panel{Content: in.MessageContent}); err != nil {
			b.logger.Debug("clear buttons", "err", err)
		}
		b.reply(ctx, in.ID, TypeAnswer, false)
		return nil

	case strings.HasPrefix(in.CustomID, permPrefix):
		b.handlePermission(ctx, in)
		return nil
	}

	return b.handleAnswer(ctx, in)
}

// handlePermission writes the operator's decision for the permission hook
// of the interaction's project.
func (b *Bridge) handlePermission(ctx context.Context, in *chat.Interaction) {
	if !ipc.ValidChannelID(in.ChannelID) {
		b.logger.Debug("permission button in non-numeric channel", "channel", in.ChannelID)
		return
	}
	if b.opts.Permissions == nil {
		return
	}
	parent := b.router.ResolveParent(in.ChannelID, in.ParentID)

	decision, text := ipc.DecisionDeny, DeniedReply
	switch strings.TrimPrefix(in.CustomID, permPrefix) {
	case "allow":
		decision, text = ipc.DecisionAllow, AllowedReply
	case "other":
		decision, text = ipc.DecisionBlock, ReasonReply
	}
	if err := b.opts.Permissions.WritePermissionDecision(parent, decision); err != nil {
		b.logger.Error("write permission decision", "channel", parent, "err", err)
	}
	b.reply(ctx, in.ID, text, false)
}

// handleAnswer sends the label of a generic prefix:label button to the
// interaction's destination and marks the originating message once the
// send has completed.
func (b *Bridge) handleAnswer(ctx context.Context, in *chat.Interaction) *router.Delivery {
	label := in.CustomID
	if _, after, ok := strings.Cut(in.CustomID, ":"); ok {
		label = after
	}

	d := b.router.SendDirect(in.ChannelID, in.ParentID, label)
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		o, err := d.Wait(ctx)
		if err != nil {
			return
		}
		status := selectedStatus + label
		if o.Err != nil {
			b.logger.Error("send button answer", "channel", in.ChannelID, "target", o.Target, "err", o.Err)
			status = failedStatus + label
		}
		if err := b.sink.Update(ctx, in.ID, chat.Panel{Content: in.MessageContent + "\n\n" + status}); err != nil {
			b.logger.Debug("mark answered message", "err", err)
		}
	}()
	return d
}

func (b *Bridge) reply(ctx context.Context, interactionID, text string, ephemeral bool) {
	if err := b.sink.Reply(ctx, interactionID, text, ephemeral); err != nil {
		b.logger.Debug("interaction reply", "err", err)
	}
}
