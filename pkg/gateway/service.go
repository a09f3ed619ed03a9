package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nlroute/pkg/bus"
	"nlroute/pkg/channel"
	"nlroute/pkg/config"
	"nlroute/pkg/provider"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const classifierHealthInterval = 30 * time.Second

// Service runs channel adapters against one pipeline and serves status endpoints.
type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	pipeline *Pipeline
	events   *bus.MessageBus
	channels []channel.Adapter
	// classifier is nil when intent classification is disabled.
	classifier provider.Classifier

	mu                 sync.RWMutex
	startedAt          time.Time
	classifierLastOKAt time.Time
	classifierLastErr  string
	channelStates      map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status             string                  `json:"status"`
	UptimeSeconds      int64                   `json:"uptime_seconds"`
	Processors         []string                `json:"processors"`
	ClassifierLastOKAt string                  `json:"classifier_last_ok_at,omitempty"`
	ClassifierLastErr  string                  `json:"classifier_last_error,omitempty"`
	Channels           map[string]channelState `json:"channels"`
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClassifier enables classifier health tracking.
func WithClassifier(classifier provider.Classifier) ServiceOption {
	return func(s *Service) {
		s.classifier = classifier
	}
}

// WithEventBus logs dispatch lifecycle events published on messageBus.
func WithEventBus(messageBus *bus.MessageBus) ServiceOption {
	return func(s *Service) {
		s.events = messageBus
	}
}

func NewService(cfg *config.Config, pipeline *Pipeline, adapters []channel.Adapter, log *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		pipeline:      pipeline,
		channels:      adapters,
		channelStates: channelStates,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.events != nil {
		go observeDispatchEvents(ctx, s.events, s.log)
	}

	if s.classifier != nil {
		if err := s.checkClassifierHealth(ctx); err != nil {
			return err
		}

		go func() {
			ticker := time.NewTicker(classifierHealthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := s.checkClassifierHealth(ctx); err != nil {
						s.log.Warn("Classifier health check failed", "error", err)
					}
				}
			}
		}()
	}

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.pipeline.Handle)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	return r
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	addr := s.cfg.Gateway.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	processors := s.pipeline.Dispatcher().Processors().Processors()
	names := make([]string, 0, len(processors))
	for _, p := range processors {
		names = append(names, p.Name())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	classifierLastOK := ""
	if !s.classifierLastOKAt.IsZero() {
		classifierLastOK = s.classifierLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:             status,
		UptimeSeconds:      uptime,
		Processors:         names,
		ClassifierLastOKAt: classifierLastOK,
		ClassifierLastErr:  s.classifierLastErr,
		Channels:           channels,
	}
}

// isReady requires a running channel and, when a classifier is configured,
// a passing health check.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.classifier == nil {
		return true
	}

	return !s.classifierLastOKAt.IsZero() && s.classifierLastErr == ""
}

func (s *Service) checkClassifierHealth(ctx context.Context) error {
	if err := s.classifier.Health(ctx); err != nil {
		s.mu.Lock()
		s.classifierLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("classifier health check failed: %w", err)
	}

	s.mu.Lock()
	s.classifierLastErr = ""
	s.classifierLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
