package nlp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"nlroute/pkg/bus"
	"nlroute/pkg/event"

	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, caller CommandCaller, processors ...*Processor) *Dispatcher {
	t.Helper()

	log, _ := newTestLogger()
	registry := NewRegistry(log)
	for _, p := range processors {
		require.True(t, registry.Register(p))
	}

	return NewDispatcher(registry, caller, WithLogger(log))
}

func TestDispatchRoutesHighestConfidence(t *testing.T) {
	t.Parallel()

	var p3Routed atomic.Bool
	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller,
		NewProcessor(propose("p2", 60)),
		NewProcessor(func(context.Context, *Session) (Result, error) {
			p3Routed.Store(true)
			return nil, nil
		}),
		NewProcessor(func(context.Context, *Session) (Result, error) {
			return IntentCommand{Name: "p1", Confidence: 80, Args: map[string]any{"k": "v"}, CurrentArg: "rest"}, nil
		}),
	)

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)
	require.True(t, p3Routed.Load(), "processor without proposal should still run")

	calls := caller.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "p1", calls[0].name)
	require.Equal(t, map[string]any{"k": "v"}, calls[0].args)
	require.Equal(t, "rest", calls[0].currentArg)
	require.False(t, calls[0].checkPermission)
}

func TestDispatchThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller, NewProcessor(propose("exact", 60.0)))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, caller.snapshot(), 1)
}

func TestDispatchBelowThresholdIsUnhandled(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller, NewProcessor(propose("almost", 59.999)))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, caller.snapshot())
}

func TestDispatchCustomThreshold(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	registry := NewRegistry(nil)
	registry.Register(NewProcessor(propose("low", 30)))
	d := NewDispatcher(registry, caller, WithConfidenceThreshold(25))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, 25.0, d.Threshold())
}

func TestDispatchTieGoesToFirstCompleted(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	slow := NewProcessor(func(ctx context.Context, _ *Session) (Result, error) {
		time.Sleep(100 * time.Millisecond)
		return IntentCommand{Name: "slow", Confidence: 75}, nil
	})
	fast := NewProcessor(propose("fast", 75))
	d := newTestDispatcher(t, caller, slow, fast)

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)

	calls := caller.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "fast", calls[0].name)
}

func TestDispatchIsolatesHandlerFaults(t *testing.T) {
	t.Parallel()

	log, out := newTestLogger()
	registry := NewRegistry(log)
	registry.Register(NewProcessor(func(context.Context, *Session) (Result, error) {
		return nil, errors.New("weather api down")
	}, WithName("weather")))
	registry.Register(NewProcessor(func(context.Context, *Session) (Result, error) {
		panic("index out of range")
	}, WithName("broken")))
	registry.Register(NewProcessor(propose("greet", 70), WithName("greeter")))

	caller := &recordingCaller{result: true}
	d := NewDispatcher(registry, caller, WithLogger(log))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)

	calls := caller.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "greet", calls[0].name)
	require.Contains(t, out.String(), "weather api down")
	require.Contains(t, out.String(), "index out of range")
}

func TestDispatchFaultWithResultContributesNothing(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller, NewProcessor(func(context.Context, *Session) (Result, error) {
		return IntentCommand{Name: "partial", Confidence: 99}, errors.New("half done")
	}))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, caller.snapshot())
}

func TestDispatchNormalizesLegacyResult(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller, NewProcessor(func(context.Context, *Session) (Result, error) {
		return LegacyResult{Confidence: 65, Command: "help", Args: map[string]any{"topic": "nlp"}}, nil
	}))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)

	calls := caller.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "help", calls[0].name)
	require.Equal(t, "", calls[0].currentArg)
	require.Equal(t, map[string]any{"topic": "nlp"}, calls[0].args)
}

func TestDispatchCallerResultPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("command failed")
	caller := &recordingCaller{result: false, err: boom}
	d := newTestDispatcher(t, caller, NewProcessor(propose("echo", 90)))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.ErrorIs(t, err, boom)
	require.False(t, handled)

	caller.result, caller.err = false, nil
	handled, err = d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)
}

func TestDispatchNoProcessorsIsUnhandled(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller)

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, caller.snapshot())
}

func TestDispatchSkipsIneligibleHandlers(t *testing.T) {
	t.Parallel()

	var ran atomic.Int32
	handler := func(context.Context, *Session) (Result, error) {
		ran.Add(1)
		return IntentCommand{Name: "x", Confidence: 100}, nil
	}
	failingPermission := func(context.Context, event.Host, *event.Event) (bool, error) {
		return false, errors.New("acl timeout")
	}

	caller := &recordingCaller{result: true}
	d := newTestDispatcher(t, caller,
		NewProcessor(handler, WithKeywords("weather")),
		NewProcessor(handler, WithPermission(failingPermission)),
	)

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)
	require.Equal(t, int32(0), ran.Load())
}

func TestDispatchNeverPassesEmptyMessageToStrictProcessors(t *testing.T) {
	t.Parallel()

	for _, onlyToMe := range []bool{true, false} {
		for _, onlyShort := range []bool{true, false} {
			for _, keywords := range [][]string{nil, {""}} {
				var ran atomic.Bool
				p := NewProcessor(func(context.Context, *Session) (Result, error) {
					ran.Store(true)
					return IntentCommand{Name: "x", Confidence: 100}, nil
				}, OnlyToMe(onlyToMe), OnlyShortMessage(onlyShort), WithKeywords(keywords...), AllowEmptyMessage(false))

				caller := &recordingCaller{result: true}
				d := newTestDispatcher(t, caller, p)
				for _, toMe := range []bool{true, false} {
					handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("", toMe))
					require.NoError(t, err)
					require.False(t, handled)
				}
				require.False(t, ran.Load(), "onlyToMe=%v onlyShort=%v keywords=%v", onlyToMe, onlyShort, keywords)
			}
		}
	}
}

func TestDispatcherToggleIsPerInstance(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	p := NewProcessor(propose("echo", 90))
	registry.Register(p)

	first := NewDispatcher(registry, &recordingCaller{result: true})
	secondCaller := &recordingCaller{result: true}
	second := NewDispatcher(registry, secondCaller)

	require.Equal(t, ToggleRemoved, first.Processors().Toggle(p))
	require.False(t, first.Processors().Contains(p))
	require.True(t, second.Processors().Contains(p))
	require.True(t, registry.Contains(p))

	handled, err := first.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)

	handled, err = second.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, secondCaller.snapshot(), 1)
}

func TestDispatcherIgnoresLaterGlobalRegistration(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	caller := &recordingCaller{result: true}
	d := NewDispatcher(registry, caller)

	registry.Register(NewProcessor(propose("late", 100)))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, caller.snapshot())
}

func TestDispatchPublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	messageBus := bus.NewMessageBus()
	t.Cleanup(messageBus.Close)
	events, unsubscribe := messageBus.SubscribeEvents(context.Background(), 8)
	defer unsubscribe()

	registry := NewRegistry(nil)
	registry.Register(NewProcessor(func(context.Context, *Session) (Result, error) {
		return nil, errors.New("boom")
	}, WithName("failing")))
	registry.Register(NewProcessor(propose("echo", 90)))
	d := NewDispatcher(registry, &recordingCaller{result: true}, WithEvents(messageBus))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.True(t, handled)

	var got []bus.EventType
	var routed, failed bus.Event
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
			switch ev.Type {
			case bus.EventDispatchRouted:
				routed = ev
			case bus.EventProcessorFailed:
				failed = ev
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	require.Equal(t, []bus.EventType{bus.EventDispatchReceived, bus.EventProcessorFailed, bus.EventDispatchRouted}, got)
	require.Equal(t, "echo", routed.Command)
	require.Equal(t, 90.0, routed.Confidence)
	require.Equal(t, 60.0, routed.Threshold)
	require.Equal(t, 2, routed.Eligible)
	require.Equal(t, 1, routed.Proposals)
	require.Equal(t, "failing", failed.Processor)
	require.Equal(t, "boom", failed.Error)
	require.Equal(t, "test:100", routed.SessionKey)
	require.NotEmpty(t, routed.RequestID)
}

func TestDispatchUnhandledEventCarriesBestProposal(t *testing.T) {
	t.Parallel()

	messageBus := bus.NewMessageBus()
	t.Cleanup(messageBus.Close)
	events, unsubscribe := messageBus.SubscribeEvents(context.Background(), 8)
	defer unsubscribe()

	registry := NewRegistry(nil)
	registry.Register(NewProcessor(propose("echo", 40)))
	registry.Register(NewProcessor(propose("help", 55)))
	d := NewDispatcher(registry, &recordingCaller{result: true}, WithEvents(messageBus))

	handled, err := d.Dispatch(context.Background(), &fakeHost{maxLength: 100}, textEvent("hello", true))
	require.NoError(t, err)
	require.False(t, handled)

	for {
		select {
		case ev := <-events:
			if ev.Type != bus.EventDispatchUnhandled {
				continue
			}
			require.Equal(t, "help", ev.Command)
			require.Equal(t, 55.0, ev.Confidence)
			require.Equal(t, 60.0, ev.Threshold)
			require.Equal(t, 2, ev.Proposals)
			return
		case <-time.After(500 * time.Millisecond):
			t.Fatal("timed out waiting for the unhandled event")
		}
	}
}

func TestDefaultRegistrySurface(t *testing.T) {
	p := NewProcessor(proposeNothing)
	t.Cleanup(func() { Unregister(p) })

	require.True(t, Register(p))
	require.True(t, DefaultRegistry().Contains(p))
	require.Equal(t, ToggleRemoved, Toggle(p))
	require.Equal(t, ToggleAdded, SetEnabled(p, true))
	require.True(t, Unregister(p))
}
