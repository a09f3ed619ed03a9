package gateway

import (
	"context"
	"log/slog"
	"time"

	"nlroute/pkg/bus"
)

// observeDispatchEvents logs dispatch lifecycle events until ctx ends or the
// bus closes.
func observeDispatchEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	log = log.With("component", "bus.events")
	events, unsubscribe := messageBus.SubscribeEvents(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logDispatchEvent(log, ev)
		}
	}
}

func logDispatchEvent(log *slog.Logger, ev bus.Event) {
	attrs := []any{
		"event_type", ev.Type,
		"request_id", ev.RequestID,
		"channel", ev.Channel,
		"chat_id", ev.ChatID,
		"session_key", ev.SessionKey,
		"timestamp", ev.At.UTC().Format(time.RFC3339Nano),
	}

	switch ev.Type {
	case bus.EventProcessorFailed:
		// The dispatcher already logged the failure at error level.
		log.Warn("Dispatch event", append(attrs, "processor", ev.Processor, "error", ev.Error)...)
	case bus.EventDispatchRouted, bus.EventDispatchUnhandled:
		attrs = append(attrs,
			"eligible", ev.Eligible,
			"proposals", ev.Proposals,
			"command", ev.Command,
			"confidence", ev.Confidence,
			"threshold", ev.Threshold,
		)
		if ev.Type == bus.EventDispatchRouted {
			log.Info("Dispatch event", attrs...)
			return
		}
		log.Debug("Dispatch event", attrs...)
	default:
		log.Debug("Dispatch event", attrs...)
	}
}
