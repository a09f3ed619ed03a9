package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nlroute/pkg/bus"
	"nlroute/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {}}}
	require.False(t, svc.isReady(), "no channel running")

	svc.channelStates["telegram"] = channelState{Running: true}
	require.True(t, svc.isReady(), "running channel without classifier")

	svc.classifier = &toggledClassifier{}
	require.False(t, svc.isReady(), "classifier never checked")

	svc.classifierLastOKAt = time.Now().UTC()
	require.True(t, svc.isReady())

	svc.classifierLastErr = "boom"
	require.False(t, svc.isReady())
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t)
	adapters := newScriptedAdapters("webhook")

	_, err := NewService(nil, pipeline, adapters, nil)
	require.Error(t, err)

	_, err = NewService(&config.Config{}, nil, adapters, nil)
	require.Error(t, err)

	_, err = NewService(&config.Config{}, pipeline, nil, nil)
	require.Error(t, err)

	svc, err := NewService(&config.Config{}, pipeline, adapters, nil)
	require.NoError(t, err)
	require.Contains(t, svc.channelStates, "webhook")
}

func TestStatusEndpoints(t *testing.T) {
	t.Parallel()

	pipeline, _ := newTestPipeline(t, echoProcessor())
	svc, err := NewService(&config.Config{}, pipeline, newScriptedAdapters("webhook"), nil)
	require.NoError(t, err)

	server := httptest.NewServer(svc.routes())
	t.Cleanup(server.Close)

	resp, err := server.Client().Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "ok", status.Status)
	require.Equal(t, []string{"test.echo"}, status.Processors)
	require.Contains(t, status.Channels, "webhook")

	ready, err := server.Client().Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
}

func TestCheckClassifierHealth(t *testing.T) {
	t.Parallel()

	classifier := &toggledClassifier{}
	svc := &Service{classifier: classifier, channelStates: map[string]channelState{}}

	classifier.setHealthErr(errors.New("outage"))
	require.ErrorContains(t, svc.checkClassifierHealth(context.Background()), "outage")
	require.Equal(t, "outage", svc.classifierLastErr)
	require.True(t, svc.classifierLastOKAt.IsZero())

	classifier.setHealthErr(nil)
	require.NoError(t, svc.checkClassifierHealth(context.Background()))
	require.Empty(t, svc.classifierLastErr)
	require.False(t, svc.classifierLastOKAt.IsZero())
}

func TestLogDispatchEventLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logDispatchEvent(log, bus.Event{Type: bus.EventDispatchReceived, RequestID: "r1"})
	require.Zero(t, buf.Len(), "received events log at debug")

	logDispatchEvent(log, bus.Event{Type: bus.EventDispatchUnhandled, RequestID: "r1", Command: "echo", Confidence: 40})
	require.Zero(t, buf.Len(), "unhandled events log at debug")

	logDispatchEvent(log, bus.Event{
		Type:       bus.EventDispatchRouted,
		RequestID:  "r2",
		Command:    "echo",
		Confidence: 87.5,
		Threshold:  60,
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "INFO", entry["level"])
	require.Equal(t, "r2", entry["request_id"])
	require.Equal(t, "echo", entry["command"])
	require.Equal(t, 87.5, entry["confidence"])

	buf.Reset()
	logDispatchEvent(log, bus.Event{Type: bus.EventProcessorFailed, Processor: "weather", Error: "kaput"})
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARN", entry["level"], "the dispatcher owns the error-level record")
	require.Equal(t, "weather", entry["processor"])
	require.Equal(t, "kaput", entry["error"])
}
