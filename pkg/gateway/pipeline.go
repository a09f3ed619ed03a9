package gateway

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode"

	"nlroute/pkg/bus"
	"nlroute/pkg/command"
	"nlroute/pkg/config"
	"nlroute/pkg/event"
	"nlroute/pkg/message"
	"nlroute/pkg/nlp"
)

const (
	routeCommand         = "command"
	routeNaturalLanguage = "natural_language"
	routeNone            = "none"

	metaRouteKey = "route"
)

// Pipeline handles one inbound event: an explicit command wins, otherwise the
// message goes through natural language dispatch.
type Pipeline struct {
	bot        config.BotConfig
	commands   *command.Registry
	dispatcher *nlp.Dispatcher
	log        *slog.Logger
}

func NewPipeline(bot config.BotConfig, commands *command.Registry, dispatcher *nlp.Dispatcher, log *slog.Logger) (*Pipeline, error) {
	if commands == nil {
		return nil, errors.New("command registry is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		bot:        bot,
		commands:   commands,
		dispatcher: dispatcher,
		log:        log.With("component", "gateway.pipeline"),
	}, nil
}

// Dispatcher exposes the natural language dispatcher for status reporting.
func (p *Pipeline) Dispatcher() *nlp.Dispatcher {
	return p.dispatcher
}

// Handle satisfies channel.Handler. Replies sent by commands are collected
// into the returned message instead of being delivered directly.
func (p *Pipeline) Handle(ctx context.Context, ev *event.Event) (bus.OutboundMessage, error) {
	if ev == nil {
		return bus.OutboundMessage{}, errors.New("event is required")
	}

	if timeout := p.bot.DispatchTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ev = p.addressedByNickname(ev)
	host := &replyHost{maxLength: p.bot.ShortMessageMaxLength}
	log := p.log.With("session_key", ev.SessionKey())

	route := routeNone
	handled := false
	var err error

	if inv, ok := command.ParseInvocation(ev.Message.ExtractPlainText(), p.bot.CommandStart); ok {
		if _, known := p.commands.Lookup(inv.Name); known {
			route = routeCommand
			log.Debug("Running explicit command", "command", inv.Name)
			handled, err = p.commands.Call(ctx, host, ev, inv.Name, nil, inv.CurrentArg, true)
		}
	}

	if route == routeNone {
		handled, err = p.dispatcher.Dispatch(ctx, host, ev)
		if handled || err != nil {
			route = routeNaturalLanguage
		}
	}

	outbound := bus.OutboundMessage{
		Channel:    ev.Channel,
		ChatID:     ev.ChatID,
		SessionKey: ev.SessionKey(),
		Handled:    handled,
		Replies:    host.replies(),
		Metadata:   map[string]string{metaRouteKey: route},
	}
	if err != nil {
		log.Error("Failed to handle event", "route", route, "error", err)
		outbound.Error = err.Error()
		return outbound, err
	}

	log.Debug("Event handled", "route", route, "handled", handled, "replies", len(outbound.Replies))
	return outbound, nil
}

// addressedByNickname treats a message that opens with the bot's nickname as
// addressed to the bot and strips the nickname. The input is not modified.
func (p *Pipeline) addressedByNickname(ev *event.Event) *event.Event {
	nickname := strings.TrimSpace(p.bot.Nickname)
	if nickname == "" || len(ev.Message) == 0 || ev.Message[0].Type != message.TypeText {
		return ev
	}

	text := strings.TrimLeftFunc(ev.Message[0].Data["text"], unicode.IsSpace)
	if len(text) < len(nickname) || !strings.EqualFold(text[:len(nickname)], nickname) {
		return ev
	}

	rest := text[len(nickname):]
	if rest != "" && !isNicknameSeparator([]rune(rest)[0]) {
		return ev
	}
	rest = strings.TrimLeftFunc(rest, isNicknameSeparator)

	copied := *ev
	copied.ToMe = true
	copied.Message = slices.Clone(ev.Message)
	if rest == "" {
		copied.Message = copied.Message[1:]
	} else {
		copied.Message[0] = message.Text(rest)
	}

	return &copied
}

func isNicknameSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(",:;!，：", r)
}

// replyHost collects replies for one event.
type replyHost struct {
	maxLength int

	mu   sync.Mutex
	sent []string
}

// ShortMessageMaxLength returns the configured limit unchanged; 0 marks every
// non-empty message as long.
func (h *replyHost) ShortMessageMaxLength() int {
	return h.maxLength
}

func (h *replyHost) Send(_ context.Context, _ *event.Event, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, text)
	return nil
}

func (h *replyHost) replies() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sent)
}
