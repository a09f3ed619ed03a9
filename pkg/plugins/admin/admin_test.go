package admin

import (
	"context"
	"testing"

	"nlroute/pkg/command"
	"nlroute/pkg/event"
	"nlroute/pkg/logger"
	"nlroute/pkg/message"
	"nlroute/pkg/nlp"

	"github.com/stretchr/testify/require"
)

type recordingHost struct {
	sent []string
}

func (h *recordingHost) ShortMessageMaxLength() int { return 100 }

func (h *recordingHost) Send(_ context.Context, _ *event.Event, text string) error {
	h.sent = append(h.sent, text)
	return nil
}

func nopProcessor(name string) *nlp.Processor {
	return nlp.NewProcessor(func(context.Context, *nlp.Session) (nlp.Result, error) {
		return nil, nil
	}, nlp.WithName(name))
}

func setup(t *testing.T) (*command.Registry, *nlp.Registry, []*nlp.Processor) {
	t.Helper()

	alpha, beta := nopProcessor("alpha"), nopProcessor("beta")
	working := nlp.NewRegistry(logger.Discard())
	working.Register(alpha)

	cmds := command.NewRegistry(logger.Discard())
	require.NoError(t, Register(cmds, []*nlp.Processor{alpha, beta}, working, []string{"root"}))

	return cmds, working, []*nlp.Processor{alpha, beta}
}

func call(t *testing.T, cmds *command.Registry, sender, arg string) (bool, []string) {
	t.Helper()

	host := &recordingHost{}
	ev := &event.Event{Channel: "webhook", ChatID: "1", SenderID: sender, Type: event.MessagePrivate, Message: message.Message{message.Text("/nlp " + arg)}, ToMe: true}
	handled, err := cmds.Call(context.Background(), host, ev, "nlp", nil, arg, true)
	require.NoError(t, err)
	return handled, host.sent
}

func TestListShowsState(t *testing.T) {
	t.Parallel()

	cmds, _, _ := setup(t)

	handled, sent := call(t, cmds, "root", "")
	require.True(t, handled)
	require.Equal(t, []string{"Processors:\nalpha [on]\nbeta [off]"}, sent)
}

func TestToggleProcessors(t *testing.T) {
	t.Parallel()

	cmds, working, procs := setup(t)

	_, sent := call(t, cmds, "root", "on beta")
	require.Equal(t, []string{"beta enabled"}, sent)
	require.True(t, working.Contains(procs[1]))

	_, sent = call(t, cmds, "root", "on beta")
	require.Equal(t, []string{"beta unchanged"}, sent)

	_, sent = call(t, cmds, "root", "toggle alpha")
	require.Equal(t, []string{"alpha disabled"}, sent)
	require.False(t, working.Contains(procs[0]))

	_, sent = call(t, cmds, "root", "off alpha")
	require.Equal(t, []string{"alpha unchanged"}, sent)
}

func TestBadArguments(t *testing.T) {
	t.Parallel()

	cmds, _, _ := setup(t)

	_, sent := call(t, cmds, "root", "on gamma")
	require.Equal(t, []string{"Unknown processor: gamma"}, sent)

	_, sent = call(t, cmds, "root", "flip alpha")
	require.Equal(t, []string{usage}, sent)

	_, sent = call(t, cmds, "root", "on")
	require.Equal(t, []string{usage}, sent)
}

func TestRequiresSuperUser(t *testing.T) {
	t.Parallel()

	cmds, working, procs := setup(t)

	handled, sent := call(t, cmds, "mallory", "off alpha")
	require.False(t, handled)
	require.Empty(t, sent)
	require.True(t, working.Contains(procs[0]))
}
