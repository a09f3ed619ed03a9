// Package webhook exposes the dispatcher over HTTP: clients POST one message
// and receive the replies it produced.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nlroute/pkg/channel"
	"nlroute/pkg/config"
	"nlroute/pkg/event"
	"nlroute/pkg/message"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	channelName     = "webhook"
	maxRequestBytes = 1 << 20
)

// MessageRequest is the body of POST /v1/messages. Message accepts CQ codes
// such as [CQ:image,url=...] besides plain text.
type MessageRequest struct {
	ChatID   string            `json:"chat_id"`
	SenderID string            `json:"sender_id"`
	Type     event.MessageType `json:"type,omitempty"`
	Message  string            `json:"message"`
	ToMe     *bool             `json:"to_me,omitempty"`
}

// MessageResponse reports what dispatch did with the message.
type MessageResponse struct {
	Handled bool     `json:"handled"`
	Replies []string `json:"replies"`
	Error   string   `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Adapter serves the HTTP channel.
type Adapter struct {
	cfg config.WebhookConfig
	log *slog.Logger
}

func NewAdapter(cfg config.WebhookConfig, log *slog.Logger) (*Adapter, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("channels.webhook.port must be positive, got %d", cfg.Port)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg: cfg,
		log: log.With("component", "channel.webhook"),
	}, nil
}

// Name returns the channel identifier used in events and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run serves until ctx ends.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	server := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.Routes(handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.log.Info("Webhook channel started", "listen", server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown webhook server: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// Routes builds the HTTP handler. It is exported so tests and embedders can
// mount it without opening a listener.
func (a *Adapter) Routes(handler channel.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if strings.TrimSpace(a.cfg.Token) != "" {
			r.Use(a.authMiddleware)
		}
		r.Post("/v1/messages", a.handleMessage(handler))
	})

	return r
}

func (a *Adapter) handleMessage(handler channel.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		ev, err := eventFromRequest(req)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			ev.Metadata["http_request_id"] = reqID
		}

		outbound, err := handler(r.Context(), ev)
		if err != nil {
			a.log.Error("Failed to process inbound message", "session_key", ev.SessionKey(), "error", err)
			respondJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		replies := outbound.Replies
		if replies == nil {
			replies = []string{}
		}
		respondJSON(w, http.StatusOK, MessageResponse{
			Handled: outbound.Handled,
			Replies: replies,
			Error:   outbound.Error,
		})
	}
}

func eventFromRequest(req MessageRequest) (*event.Event, error) {
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return nil, errors.New("chat_id is required")
	}

	msgType := req.Type
	switch msgType {
	case "":
		msgType = event.MessagePrivate
	case event.MessagePrivate, event.MessageGroup:
	default:
		return nil, fmt.Errorf("type must be %q or %q", event.MessagePrivate, event.MessageGroup)
	}

	senderID := strings.TrimSpace(req.SenderID)
	if senderID == "" {
		senderID = chatID
	}

	// Private chats are always addressed to the bot; groups must say so.
	toMe := msgType == event.MessagePrivate
	if req.ToMe != nil {
		toMe = *req.ToMe
	}

	return &event.Event{
		ID:       uuid.NewString(),
		Channel:  channelName,
		ChatID:   chatID,
		SenderID: senderID,
		Type:     msgType,
		Message:  message.Parse(req.Message),
		ToMe:     toMe,
		Metadata: map[string]string{},
	}, nil
}

func (a *Adapter) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.Token)) != 1 {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid bearer token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Adapter) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"http_request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
