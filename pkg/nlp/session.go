package nlp

import (
	"context"
	"slices"

	"nlroute/pkg/event"
)

// Session is the read-only view of one inbound message shared by every
// processor during a dispatch.
type Session struct {
	host   event.Host
	event  *event.Event
	raw    string
	text   string
	images []string
}

// NewSession derives the transcript and image list from ev once.
func NewSession(host event.Host, ev *event.Event) *Session {
	s := &Session{host: host, event: ev}
	if ev == nil {
		return s
	}

	s.raw = ev.Message.String()
	s.text = ev.Message.ExtractPlainText()
	s.images = ev.Message.ImageURLs()
	return s
}

func (s *Session) Host() event.Host {
	return s.host
}

func (s *Session) Event() *event.Event {
	return s.event
}

// Raw returns the serialized message.
func (s *Session) Raw() string {
	return s.raw
}

// Text returns the plain text transcript.
func (s *Session) Text() string {
	return s.text
}

// Images returns the image URLs in message order.
func (s *Session) Images() []string {
	return slices.Clone(s.images)
}

// ToMe reports whether the message addressed the bot directly.
func (s *Session) ToMe() bool {
	return s.event != nil && s.event.ToMe
}

// Send replies to the chat the message came from.
func (s *Session) Send(ctx context.Context, text string) error {
	return s.host.Send(ctx, s.event, text)
}
