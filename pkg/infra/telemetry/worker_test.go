package telemetry_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/infra/httpx"
	"github.com/vigilsec/vigil/pkg/infra/telemetry"
)

type recordingExporter struct {
	mu     sync.Mutex
	events []*telemetry.Event
	err    error
	closed bool
}

func (r *recordingExporter) Name() string { return "recording" }

func (r *recordingExporter) Handle(ctx context.Context, event *telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingExporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingExporter) recorded() []*telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*telemetry.Event(nil), r.events...)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestWorker_DeliversEvents(t *testing.T) {
	exporter := &recordingExporter{}
	worker := telemetry.NewWorker(newTestLogger(), exporter)
	worker.StartWorkers(1)
	defer worker.Shutdown()

	worker.Emit(telemetry.NewEvent("security.threat_detected", map[string]interface{}{"risk_score": 85}))

	require.Eventually(t, func() bool {
		return len(exporter.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "security.threat_detected", exporter.recorded()[0].Name)
}

func TestWorker_ExporterFailureIsSwallowed(t *testing.T) {
	exporter := &recordingExporter{err: errors.New("sink down")}
	worker := telemetry.NewWorker(newTestLogger(), exporter)
	worker.StartWorkers(1)
	defer worker.Shutdown()

	worker.Emit(telemetry.NewEvent("security.error", nil))

	require.Eventually(t, func() bool {
		return len(exporter.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_EmitAfterShutdownIsNoop(t *testing.T) {
	exporter := &recordingExporter{}
	worker := telemetry.NewWorker(newTestLogger(), exporter)
	worker.StartWorkers(1)
	worker.Shutdown()

	worker.Emit(telemetry.NewEvent("late", nil))
	assert.True(t, exporter.closed)
	assert.Empty(t, exporter.recorded())
}

func TestWorker_EmitFuncBuildsOnWorkerGoroutine(t *testing.T) {
	exporter := &recordingExporter{}
	worker := telemetry.NewWorker(newTestLogger(), exporter)
	worker.StartWorkers(1)
	defer worker.Shutdown()

	gate := make(chan struct{})
	worker.EmitFunc(func(ctx context.Context) *telemetry.Event {
		<-gate
		return telemetry.NewEvent("security.threat_detected", map[string]interface{}{"enriched": true})
	})

	// EmitFunc must return before the build callback has run.
	assert.Empty(t, exporter.recorded())
	close(gate)

	require.Eventually(t, func() bool {
		return len(exporter.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, true, exporter.recorded()[0].Payload["enriched"])
}

func TestWorker_EmitFuncNilEventIsDropped(t *testing.T) {
	exporter := &recordingExporter{}
	worker := telemetry.NewWorker(newTestLogger(), exporter)
	worker.StartWorkers(1)
	defer worker.Shutdown()

	worker.EmitFunc(func(ctx context.Context) *telemetry.Event { return nil })
	worker.Emit(telemetry.NewEvent("after", nil))

	require.Eventually(t, func() bool {
		return len(exporter.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "after", exporter.recorded()[0].Name)
}

func TestHTTPExporter_PostsEvent(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "token", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	exporter, err := telemetry.NewHTTPExporter(
		telemetry.HTTPExporterConfig{Endpoint: server.URL, APIKey: "token"},
		newTestLogger(),
		httpx.NewCircuitBreaker("telemetry-test", time.Second, 3),
	)
	require.NoError(t, err)

	event := telemetry.NewEvent("security.threat_detected", map[string]interface{}{"severity": "high"})
	require.NoError(t, exporter.Handle(context.Background(), event))
	assert.Equal(t, "security.threat_detected", received["name"])
}

func TestNewHTTPExporter_RequiresEndpoint(t *testing.T) {
	_, err := telemetry.NewHTTPExporter(telemetry.HTTPExporterConfig{}, newTestLogger(), nil)
	assert.Error(t, err)
}
