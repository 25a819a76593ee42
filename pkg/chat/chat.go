// Package chat defines the platform-neutral events a chat adapter delivers
// to the bridge and the outbound actions the bridge asks it to perform.
package chat

import (
	"context"

	"chatmux/pkg/attach"
)

// Event kinds.
const (
	KindMessage      = "message"
	KindInteraction  = "interaction"
	KindThreadUpdate = "thread_update"
)

// Message is a user message posted in a channel or thread.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	// ParentID is the parent channel when ChannelID is a thread.
	ParentID    string        `json:"parentId,omitempty"`
	ThreadName  string        `json:"threadName,omitempty"`
	AuthorID    string        `json:"authorId"`
	Bot         bool          `json:"bot,omitempty"`
	Text        string        `json:"text"`
	Attachments []attach.File `json:"attachments,omitempty"`
}

// IsThread reports whether the message was posted in a thread.
func (m *Message) IsThread() bool { return m.ParentID != "" }

// Interaction is a button press.
type Interaction struct {
	ID             string `json:"id"`
	ChannelID      string `json:"channelId"`
	ParentID       string `json:"parentId,omitempty"`
	MessageID      string `json:"messageId"`
	MessageContent string `json:"messageContent,omitempty"`
	UserID         string `json:"userId"`
	CustomID       string `json:"customId"`
}

// ThreadUpdate reports a thread state change.
type ThreadUpdate struct {
	ThreadID string `json:"threadId"`
	ParentID string `json:"parentId,omitempty"`
	Archived bool   `json:"archived"`
}

// Event is the envelope posted by an adapter. Exactly one payload field
// matching Kind is set.
type Event struct {
	Kind        string        `json:"kind"`
	Message     *Message      `json:"message,omitempty"`
	Interaction *Interaction  `json:"interaction,omitempty"`
	Thread      *ThreadUpdate `json:"thread,omitempty"`
}

// Valid reports whether the payload matches Kind.
func (e *Event) Valid() bool {
	switch e.Kind {
	case KindMessage:
		return e.Message != nil
	case KindInteraction:
		return e.Interaction != nil
	case KindThreadUpdate:
		return e.Thread != nil
	}
	return false
}

// Button styles.
const (
	StylePrimary   = "primary"
	StyleSecondary = "secondary"
	StyleSuccess   = "success"
	StyleDanger    = "danger"
)

// Button is one clickable component.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"`
}

// Panel is message content with rows of buttons.
type Panel struct {
	Content string     `json:"content"`
	Rows    [][]Button `json:"rows,omitempty"`
}

// Sink performs outbound actions on the chat platform.
type Sink interface {
	// Send posts text to a channel or thread.
	Send(ctx context.Context, channelID, text string) error
	// Reply answers an interaction.
	Reply(ctx context.Context, interactionID, text string, ephemeral bool) error
	// ShowPanel posts a panel to a channel.
	ShowPanel(ctx context.Context, channelID string, p Panel) error
	// Update replaces the message an interaction came from.
	Update(ctx context.Context, interactionID string, p Panel) error
}
