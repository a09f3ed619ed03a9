package nlp

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"nlroute/pkg/event"
	"nlroute/pkg/message"
)

type fakeHost struct {
	maxLength int

	mu   sync.Mutex
	sent []string
}

func (h *fakeHost) ShortMessageMaxLength() int {
	return h.maxLength
}

func (h *fakeHost) Send(_ context.Context, _ *event.Event, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, text)
	return nil
}

type commandCall struct {
	name            string
	args            map[string]any
	currentArg      string
	checkPermission bool
}

type recordingCaller struct {
	result bool
	err    error

	mu    sync.Mutex
	calls []commandCall
}

func (c *recordingCaller) Call(_ context.Context, _ event.Host, _ *event.Event, name string, args map[string]any, currentArg string, checkPermission bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, commandCall{name: name, args: args, currentArg: currentArg, checkPermission: checkPermission})
	return c.result, c.err
}

func (c *recordingCaller) snapshot() []commandCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commandCall(nil), c.calls...)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *lockedBuffer) {
	out := &lockedBuffer{}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})), out
}

func textEvent(text string, toMe bool) *event.Event {
	msg := message.Message{}
	if text != "" {
		msg = append(msg, message.Text(text))
	}

	return &event.Event{
		ID:       "1",
		Channel:  "test",
		ChatID:   "100",
		SenderID: "7",
		Type:     event.MessagePrivate,
		Message:  msg,
		ToMe:     toMe,
	}
}

func propose(name string, confidence float64) Handler {
	return func(context.Context, *Session) (Result, error) {
		return IntentCommand{Name: name, Confidence: confidence}, nil
	}
}

func proposeNothing(context.Context, *Session) (Result, error) {
	return nil, nil
}
