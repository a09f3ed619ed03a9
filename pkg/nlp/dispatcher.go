package nlp

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"unicode/utf8"

	"nlroute/pkg/bus"
	"nlroute/pkg/event"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConfidenceThreshold is the lowest confidence that is routed.
	DefaultConfidenceThreshold = 60.0
	// DefaultShortMessageMaxLength applies when a session has no host.
	DefaultShortMessageMaxLength = 100
)

// CommandCaller runs a named command on behalf of an event.
type CommandCaller interface {
	Call(ctx context.Context, host event.Host, ev *event.Event, name string, args map[string]any, currentArg string, checkPermission bool) (bool, error)
}

// Dispatcher routes events to the most confident processor proposal.
type Dispatcher struct {
	processors *Registry
	caller     CommandCaller
	threshold  float64
	log        *slog.Logger
	events     *bus.MessageBus
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithConfidenceThreshold overrides DefaultConfidenceThreshold.
func WithConfidenceThreshold(threshold float64) Option {
	return func(d *Dispatcher) {
		d.threshold = threshold
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithEvents publishes dispatch lifecycle events to messageBus.
func WithEvents(messageBus *bus.MessageBus) Option {
	return func(d *Dispatcher) {
		d.events = messageBus
	}
}

// NewDispatcher snapshots registry into the dispatcher's own working set. A
// nil registry means the default registry.
func NewDispatcher(registry *Registry, caller CommandCaller, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = DefaultRegistry()
	}

	d := &Dispatcher{
		processors: registry.Snapshot(),
		caller:     caller,
		threshold:  DefaultConfidenceThreshold,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "nlp.dispatcher")

	return d
}

// Processors returns the working set. Toggling processors here affects this
// dispatcher only.
func (d *Dispatcher) Processors() *Registry {
	return d.processors
}

func (d *Dispatcher) Threshold() float64 {
	return d.threshold
}

type outcome struct {
	processor *Processor
	command   IntentCommand
	ok        bool
	err       error
}

// Dispatch handles ev as natural language. It reports whether a command was
// routed and handled; the error, if any, comes from the command caller.
func (d *Dispatcher) Dispatch(ctx context.Context, host event.Host, ev *event.Event) (bool, error) {
	requestID := uuid.NewString()
	log := d.log.With("request_id", requestID)
	if ev != nil {
		log = log.With("session_key", ev.SessionKey())
	}

	session := NewSession(host, ev)
	d.publish(ctx, session, bus.Event{Type: bus.EventDispatchReceived, RequestID: requestID})

	textLength := utf8.RuneCountInString(session.Text())
	eligible := d.eligible(ctx, log, session, textLength)

	commands := d.execute(ctx, log, requestID, session, eligible)
	slices.SortStableFunc(commands, func(a, b IntentCommand) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	log.Debug("Intent commands collected", "eligible", len(eligible), "proposals", len(commands))

	summary := bus.Event{
		RequestID: requestID,
		Eligible:  len(eligible),
		Proposals: len(commands),
		Threshold: d.threshold,
	}
	if len(commands) > 0 {
		summary.Command = commands[0].Name
		summary.Confidence = commands[0].Confidence
	}

	if len(commands) == 0 || !(commands[0].Confidence >= d.threshold) {
		log.Debug("No intent command has enough confidence", "threshold", d.threshold)
		summary.Type = bus.EventDispatchUnhandled
		d.publish(ctx, session, summary)
		return false, nil
	}

	chosen := commands[0]
	log.Debug("Intent command with highest confidence", "command", chosen.Name, "confidence", chosen.Confidence)
	summary.Type = bus.EventDispatchRouted
	d.publish(ctx, session, summary)

	if d.caller == nil {
		return false, errors.New("no command caller configured")
	}
	return d.caller.Call(ctx, host, ev, chosen.Name, chosen.Args, chosen.CurrentArg, false)
}

// eligible tests every processor in the working set concurrently and returns
// the eligible ones in working-set order.
func (d *Dispatcher) eligible(ctx context.Context, log *slog.Logger, session *Session, textLength int) []*Processor {
	processors := d.processors.Processors()
	passed := make([]bool, len(processors))

	var g errgroup.Group
	for i, p := range processors {
		g.Go(func() error {
			ok, err := p.TestWithLength(ctx, session, textLength)
			if err != nil {
				log.Warn("Processor eligibility check failed", "processor", p.Name(), "error", err)
				return nil
			}
			passed[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	eligible := make([]*Processor, 0, len(processors))
	for i, p := range processors {
		if passed[i] {
			eligible = append(eligible, p)
		}
	}

	return eligible
}

// execute runs every eligible handler concurrently, waits for all of them and
// returns their proposals in completion order.
func (d *Dispatcher) execute(ctx context.Context, log *slog.Logger, requestID string, session *Session, eligible []*Processor) []IntentCommand {
	if len(eligible) == 0 {
		return nil
	}

	outcomes := make(chan outcome, len(eligible))
	var wg sync.WaitGroup
	for _, p := range eligible {
		wg.Go(func() {
			result, err := p.run(ctx, session)
			if err != nil {
				outcomes <- outcome{processor: p, err: err}
				return
			}
			command, ok := normalize(result)
			outcomes <- outcome{processor: p, command: command, ok: ok}
		})
	}
	wg.Wait()
	close(outcomes)

	commands := make([]IntentCommand, 0, len(eligible))
	for o := range outcomes {
		if o.err != nil {
			log.Error("Natural language processor failed", "processor", o.processor.Name(), "error", o.err)
			d.publish(ctx, session, bus.Event{
				Type:      bus.EventProcessorFailed,
				RequestID: requestID,
				Processor: o.processor.Name(),
				Error:     o.err.Error(),
			})
			continue
		}
		if o.ok {
			commands = append(commands, o.command)
		}
	}

	return commands
}

// publish stamps out with the session's routing identity and sends it.
func (d *Dispatcher) publish(ctx context.Context, session *Session, out bus.Event) {
	if d.events == nil {
		return
	}

	if ev := session.Event(); ev != nil {
		out.Channel = ev.Channel
		out.ChatID = ev.ChatID
		out.SessionKey = ev.SessionKey()
	}

	d.events.PublishEvent(ctx, out)
}
