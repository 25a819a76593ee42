package gateway

import (
	"context"

	"chatmux/pkg/chat"
)

// Sink returns the chat.Sink that publishes to server's outbox.
func (g *Gateway) Sink(server string) chat.Sink {
	return &sink{g: g, server: server}
}

type sink struct {
	g      *Gateway
	server string
}

func (s *sink) Send(_ context.Context, channelID, text string) error {
	return s.g.publish(s.server, chat.Outbound{Action: chat.ActionSend, ChannelID: channelID, Text: text})
}

func (s *sink) Reply(_ context.Context, interactionID, text string, ephemeral bool) error {
	return s.g.publish(s.server, chat.Outbound{
		Action: chat.ActionReply, InteractionID: interactionID, Text: text, Ephemeral: ephemeral,
	})
}

func (s *sink) ShowPanel(_ context.Context, channelID string, p chat.Panel) error {
	return s.g.publish(s.server, chat.Outbound{Action: chat.ActionPanel, ChannelID: channelID, Panel: &p})
}

func (s *sink) Update(_ context.Context, interactionID string, p chat.Panel) error {
	return s.g.publish(s.server, chat.Outbound{Action: chat.ActionUpdate, InteractionID: interactionID, Panel: &p})
}
