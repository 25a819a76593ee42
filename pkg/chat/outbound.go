package chat

// Outbound action kinds.
const (
	ActionSend   = "send"
	ActionReply  = "reply"
	ActionPanel  = "panel"
	ActionUpdate = "update"
)

// Outbound is one action for the adapter, as streamed on the outbox.
type Outbound struct {
	ID            string `json:"id"`
	Action        string `json:"action"`
	ChannelID     string `json:"channelId,omitempty"`
	InteractionID string `json:"interactionId,omitempty"`
	Text          string `json:"text,omitempty"`
	Ephemeral     bool   `json:"ephemeral,omitempty"`
	Panel         *Panel `json:"panel,omitempty"`
}
