package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"nlroute/pkg/command"
	"nlroute/pkg/config"
	"nlroute/pkg/event"
	"nlroute/pkg/logger"
	"nlroute/pkg/message"
	"nlroute/pkg/nlp"
	"nlroute/pkg/permission"

	"github.com/stretchr/testify/require"
)

func testBotConfig() config.BotConfig {
	return config.BotConfig{
		Nickname:              "rover",
		CommandStart:          []string{"/"},
		ShortMessageMaxLength: 100,
		ConfidenceThreshold:   60,
	}
}

func newTestPipeline(t *testing.T, processors ...*nlp.Processor) (*Pipeline, *command.Registry) {
	t.Helper()
	return newTestPipelineWithBot(t, testBotConfig(), processors...)
}

func newTestPipelineWithBot(t *testing.T, bot config.BotConfig, processors ...*nlp.Processor) (*Pipeline, *command.Registry) {
	t.Helper()

	commands := command.NewRegistry(logger.Discard())
	require.NoError(t, commands.Register(&command.Command{
		Name: "echo",
		Handler: func(ctx context.Context, s *command.Session) error {
			return s.Send(ctx, s.CurrentArg())
		},
	}))
	require.NoError(t, commands.Register(&command.Command{
		Name:       "admin",
		Permission: permission.SuperUser("root"),
		Handler: func(ctx context.Context, s *command.Session) error {
			return s.Send(ctx, "admin ok")
		},
	}))
	require.NoError(t, commands.Register(&command.Command{
		Name: "fail",
		Handler: func(context.Context, *command.Session) error {
			return errors.New("boom")
		},
	}))

	registry := nlp.NewRegistry(logger.Discard())
	for _, p := range processors {
		require.True(t, registry.Register(p))
	}

	dispatcher := nlp.NewDispatcher(registry, commands, nlp.WithLogger(logger.Discard()))
	pipeline, err := NewPipeline(bot, commands, dispatcher, logger.Discard())
	require.NoError(t, err)

	return pipeline, commands
}

func privateEvent(text string) *event.Event {
	return &event.Event{
		ID:       "ev-1",
		Channel:  "webhook",
		ChatID:   "100",
		SenderID: "u1",
		Type:     event.MessagePrivate,
		Message:  message.Message{message.Text(text)},
		ToMe:     true,
	}
}

func echoProcessor() *nlp.Processor {
	return nlp.NewProcessor(func(_ context.Context, s *nlp.Session) (nlp.Result, error) {
		rest, ok := strings.CutPrefix(s.Text(), "repeat ")
		if !ok {
			return nil, nil
		}
		return nlp.IntentCommand{Confidence: 90, Name: "echo", CurrentArg: rest}, nil
	}, nlp.WithName("test.echo"), nlp.WithKeywords("repeat"))
}

func TestPipelineExplicitCommand(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t)

	outbound, err := pipeline.Handle(context.Background(), privateEvent("/echo hello world"))
	require.NoError(t, err)
	require.True(t, outbound.Handled)
	require.Equal(t, []string{"hello world"}, outbound.Replies)
	require.Equal(t, routeCommand, outbound.Metadata[metaRouteKey])
	require.Equal(t, "webhook:100", outbound.SessionKey)
	require.Equal(t, "webhook", outbound.Channel)
	require.Equal(t, "100", outbound.ChatID)
}

func TestPipelineExplicitCommandChecksPermission(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t)

	outbound, err := pipeline.Handle(context.Background(), privateEvent("/admin"))
	require.NoError(t, err)
	require.False(t, outbound.Handled)
	require.Empty(t, outbound.Replies)
	require.Equal(t, routeCommand, outbound.Metadata[metaRouteKey])

	ev := privateEvent("/admin")
	ev.SenderID = "root"
	outbound, err = pipeline.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, outbound.Handled)
	require.Equal(t, []string{"admin ok"}, outbound.Replies)
}

func TestPipelineUnknownCommandFallsBackToNaturalLanguage(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t, echoProcessor())

	outbound, err := pipeline.Handle(context.Background(), privateEvent("/nope"))
	require.NoError(t, err)
	require.False(t, outbound.Handled)
	require.Equal(t, routeNone, outbound.Metadata[metaRouteKey])
}

func TestPipelineNaturalLanguage(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t, echoProcessor())

	outbound, err := pipeline.Handle(context.Background(), privateEvent("repeat after me"))
	require.NoError(t, err)
	require.True(t, outbound.Handled)
	require.Equal(t, []string{"after me"}, outbound.Replies)
	require.Equal(t, routeNaturalLanguage, outbound.Metadata[metaRouteKey])
}

func TestPipelineShortMessageLimitZeroSkipsShortOnlyProcessors(t *testing.T) {
	t.Parallel()

	bot := testBotConfig()
	bot.ShortMessageMaxLength = 0
	pipeline, _ := newTestPipelineWithBot(t, bot, echoProcessor())

	outbound, err := pipeline.Handle(context.Background(), privateEvent("repeat hi"))
	require.NoError(t, err)
	require.False(t, outbound.Handled)
	require.Empty(t, outbound.Replies)
}

func TestPipelineCommandErrorIsReported(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t)

	outbound, err := pipeline.Handle(context.Background(), privateEvent("/fail"))
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
	require.False(t, outbound.Handled)
	require.Contains(t, outbound.Error, "boom")
	require.Equal(t, routeCommand, outbound.Metadata[metaRouteKey])
}

func TestPipelineNicknameAddressesGroupMessage(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t, echoProcessor())

	ev := privateEvent("Rover, repeat hi")
	ev.Type = event.MessageGroup
	ev.ToMe = false

	outbound, err := pipeline.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, outbound.Handled)
	require.Equal(t, []string{"hi"}, outbound.Replies)

	require.False(t, ev.ToMe)
	require.Equal(t, "Rover, repeat hi", ev.Message.ExtractPlainText())
}

func TestPipelineGroupMessageWithoutNicknameIsIgnored(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t, echoProcessor())

	ev := privateEvent("repeat hi")
	ev.Type = event.MessageGroup
	ev.ToMe = false

	outbound, err := pipeline.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.False(t, outbound.Handled)
	require.Empty(t, outbound.Replies)
}

func TestAddressedByNickname(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t)

	tests := []struct {
		name     string
		text     string
		wantToMe bool
		wantText string
	}{
		{name: "comma", text: "rover, hello", wantToMe: true, wantText: "hello"},
		{name: "case insensitive", text: "ROVER hello", wantToMe: true, wantText: "hello"},
		{name: "keeps command prefix", text: "rover /echo hi", wantToMe: true, wantText: "/echo hi"},
		{name: "nickname only", text: "rover", wantToMe: true, wantText: ""},
		{name: "longer word", text: "rovers are cool", wantToMe: false, wantText: "rovers are cool"},
		{name: "not leading", text: "hello rover", wantToMe: false, wantText: "hello rover"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := privateEvent(tt.text)
			ev.ToMe = false

			got := pipeline.addressedByNickname(ev)
			require.Equal(t, tt.wantToMe, got.ToMe)
			require.Equal(t, tt.wantText, got.Message.ExtractPlainText())
		})
	}
}

func TestNewPipelineValidation(t *testing.T) {
	t.Parallel()

	commands := command.NewRegistry(nil)
	dispatcher := nlp.NewDispatcher(nlp.NewRegistry(nil), commands)

	_, err := NewPipeline(testBotConfig(), nil, dispatcher, nil)
	require.Error(t, err)

	_, err = NewPipeline(testBotConfig(), commands, nil, nil)
	require.Error(t, err)
}
