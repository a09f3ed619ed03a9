package event

import (
	"context"

	"nlroute/pkg/message"
)

// MessageType distinguishes one-to-one chats from group chats.
type MessageType string

const (
	MessagePrivate MessageType = "private"
	MessageGroup   MessageType = "group"
)

// Event is one inbound message occurrence delivered by a channel adapter.
type Event struct {
	ID       string            `json:"id"`
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	SenderID string            `json:"sender_id"`
	Type     MessageType       `json:"type"`
	Message  message.Message   `json:"message"`
	ToMe     bool              `json:"to_me"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionKey maps one chat to a stable conversation namespace.
func (e *Event) SessionKey() string {
	return e.Channel + ":" + e.ChatID
}

// Host is the bot context an event is handled under.
type Host interface {
	// ShortMessageMaxLength is the longest transcript, in characters, still
	// considered a short message.
	ShortMessageMaxLength() int
	// Send delivers a reply to the chat the event came from.
	Send(ctx context.Context, ev *Event, text string) error
}
