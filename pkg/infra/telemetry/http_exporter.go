package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/infra/httpx"
)

const (
	eventsPath     = "/v1/events"
	defaultTimeout = 10 * time.Second
)

var ErrEventSubmission = errors.New("event submission failed")

type HTTPExporterConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPExporter posts events to an external event pipeline. Failures are
// reported to the caller, which is expected to log and drop rather than
// retry or surface them.
type HTTPExporter struct {
	cfg            HTTPExporterConfig
	client         *http.Client
	logger         *logrus.Logger
	circuitBreaker httpx.CircuitBreaker
}

func NewHTTPExporter(cfg HTTPExporterConfig, logger *logrus.Logger, circuitBreaker httpx.CircuitBreaker) (*HTTPExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry exporter requires an endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &HTTPExporter{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		logger:         logger,
		circuitBreaker: circuitBreaker,
	}, nil
}

func (e *HTTPExporter) Name() string {
	return "http"
}

func (e *HTTPExporter) Handle(ctx context.Context, event *Event) error {
	return e.circuitBreaker.Execute(func() error {
		return e.submit(ctx, event)
	})
}

func (e *HTTPExporter) Close() {}

func (e *HTTPExporter) submit(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint+eventsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ErrEventSubmission, resp.StatusCode)
	}
	return nil
}
