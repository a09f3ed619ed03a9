package channel

import (
	"context"

	"nlroute/pkg/bus"
	"nlroute/pkg/event"
)

// Handler processes one inbound event and returns the replies it produced.
type Handler func(context.Context, *event.Event) (bus.OutboundMessage, error)

// Adapter bridges one external transport (for example Telegram) into the dispatcher.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
