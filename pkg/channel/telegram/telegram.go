package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nlroute/pkg/bus"
	"nlroute/pkg/channel"
	"nlroute/pkg/config"
	"nlroute/pkg/event"
	"nlroute/pkg/message"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// Adapter bridges Telegram updates into dispatcher events.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in events and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards messages through the shared channel handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "bot", me.Username)

	resolveFile := func(ctx context.Context, fileID string) (string, error) {
		file, err := bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err != nil {
			return "", err
		}
		return bot.FileDownloadURL(file.FilePath), nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			msg := update.Message
			if msg == nil {
				continue
			}
			if msg.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(msg.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			ev := eventFromMessage(ctx, msg, me, resolveFile, a.log)
			if len(ev.Message) == 0 {
				continue
			}
			ev.Metadata["update_id"] = strconv.Itoa(update.UpdateID)
			a.log.Info("Received message",
				"chat_id", ev.ChatID,
				"sender_id", senderID,
				"session_key", ev.SessionKey(),
				"to_me", ev.ToMe,
				"content", previewText(ev.Message.String()),
			)

			stopTyping := func() {}
			if ev.ToMe {
				stopTyping = a.startTypingIndicator(ctx, bot, msg.Chat.ID)
			}

			outbound, err := handler(ctx, ev)
			stopTyping()
			if err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
				outbound = bus.OutboundMessage{Error: err.Error()}
			}

			for _, text := range responseTexts(outbound) {
				a.log.Info("Sending message", "chat_id", ev.ChatID, "session_key", ev.SessionKey(), "content", previewText(text))
				if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), text)); err != nil {
					a.log.Error("Failed to send telegram message", "error", err)
				}
			}
		}
	}
}

type fileResolver func(ctx context.Context, fileID string) (string, error)

// eventFromMessage converts one Telegram message into an event. Text and
// captions become text segments with the bot mention removed; the largest
// photo size becomes an image segment.
func eventFromMessage(ctx context.Context, msg *telego.Message, me *telego.User, resolveFile fileResolver, log *slog.Logger) *event.Event {
	ev := &event.Event{
		ID:       strconv.Itoa(msg.MessageID),
		Channel:  channelName,
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		Type:     event.MessageGroup,
		Metadata: map[string]string{},
	}
	if msg.Chat.Type == telego.ChatTypePrivate {
		ev.Type = event.MessagePrivate
		ev.ToMe = true
	}
	if me != nil && msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == me.ID {
		ev.ToMe = true
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if me != nil && me.Username != "" {
		mention := "@" + me.Username
		if strings.Contains(text, mention) {
			ev.ToMe = true
			text = strings.Join(strings.Fields(strings.ReplaceAll(text, mention, "")), " ")
		}
	}
	if text = strings.TrimSpace(text); text != "" {
		ev.Message = append(ev.Message, message.Text(text))
	}

	if len(msg.Photo) > 0 && resolveFile != nil {
		largest := msg.Photo[len(msg.Photo)-1]
		url, err := resolveFile(ctx, largest.FileID)
		if err != nil {
			log.Warn("Failed to resolve photo", "file_id", largest.FileID, "error", err)
		} else {
			ev.Message = append(ev.Message, message.Image(url))
		}
	}

	return ev
}

// responseTexts lists what to send back: every reply, or the error when there are none.
func responseTexts(outbound bus.OutboundMessage) []string {
	texts := make([]string, 0, len(outbound.Replies))
	for _, reply := range outbound.Replies {
		if reply = strings.TrimSpace(reply); reply != "" {
			texts = append(texts, reply)
		}
	}
	if len(texts) == 0 {
		if errText := strings.TrimSpace(outbound.Error); errText != "" {
			texts = append(texts, errText)
		}
	}
	return texts
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
