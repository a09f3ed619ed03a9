package permission

import (
	"context"
	"fmt"
	"strings"

	"nlroute/pkg/event"
)

// Checker reports whether an event may trigger a handler. It may block, for
// example on a remote lookup.
type Checker func(ctx context.Context, host event.Host, ev *event.Event) (bool, error)

// Everyone allows every event.
func Everyone(context.Context, event.Host, *event.Event) (bool, error) {
	return true, nil
}

// Nobody denies every event.
func Nobody(context.Context, event.Host, *event.Event) (bool, error) {
	return false, nil
}

// PrivateChat allows events from one-to-one chats only.
func PrivateChat(_ context.Context, _ event.Host, ev *event.Event) (bool, error) {
	return ev.Type == event.MessagePrivate, nil
}

// GroupChat allows events from group chats only.
func GroupChat(_ context.Context, _ event.Host, ev *event.Event) (bool, error) {
	return ev.Type == event.MessageGroup, nil
}

// SuperUser allows events whose sender is one of ids.
func SuperUser(ids ...string) Checker {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}

	return func(_ context.Context, _ event.Host, ev *event.Event) (bool, error) {
		_, ok := allowed[ev.SenderID]
		return ok, nil
	}
}

// Any allows an event when at least one checker allows it. Checkers run in
// order and the first error stops evaluation.
func Any(checkers ...Checker) Checker {
	return func(ctx context.Context, host event.Host, ev *event.Event) (bool, error) {
		for _, check := range checkers {
			ok, err := check(ctx, host, ev)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// All allows an event only when every checker allows it.
func All(checkers ...Checker) Checker {
	return func(ctx context.Context, host event.Host, ev *event.Event) (bool, error) {
		for _, check := range checkers {
			ok, err := check(ctx, host, ev)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Check runs checker and converts a panic into an error. A nil checker allows
// everything.
func Check(ctx context.Context, checker Checker, host event.Host, ev *event.Event) (ok bool, err error) {
	if checker == nil {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("permission check panicked: %v", r)
		}
	}()

	return checker(ctx, host, ev)
}
