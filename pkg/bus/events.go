package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventDispatchReceived  EventType = "dispatch_received"
	EventDispatchRouted    EventType = "dispatch_routed"
	EventDispatchUnhandled EventType = "dispatch_unhandled"
	EventProcessorFailed   EventType = "processor_failed"
)

// Event describes one step of a natural-language dispatch. The dispatch
// fields are set only on the event types that carry them.
type Event struct {
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	Channel    string    `json:"channel,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	SessionKey string    `json:"session_key,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`

	// Eligible and Proposals count the processors that passed their
	// eligibility test and the intent commands they returned.
	Eligible  int `json:"eligible,omitempty"`
	Proposals int `json:"proposals,omitempty"`
	// Command and Confidence describe the best proposal, routed or not.
	Command    string  `json:"command,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	// Processor names the failing processor on EventProcessorFailed.
	Processor string `json:"processor,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PublishEvent delivers event to every subscriber without blocking. It reports
// false once ctx is done or the bus is closed.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	subs := make([]chan Event, 0, len(mb.eventSubscribers))
	for _, ch := range mb.eventSubscribers {
		subs = append(subs, ch)
	}
	mb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

// SubscribeEvents registers a buffered subscriber. The returned function
// unsubscribes and closes the channel; it is also called when ctx ends.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
