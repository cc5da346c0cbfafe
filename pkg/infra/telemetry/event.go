package telemetry

import (
	"context"
	"time"
)

// Event is a fire-and-forget telemetry submission: a name plus a structured
// payload. Delivery is best-effort.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(name string, payload map[string]interface{}) *Event {
	return &Event{
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

//go:generate mockery --name=Exporter --dir=. --output=./mocks --filename=exporter_mock.go --case=underscore --with-expecter
type Exporter interface {
	Name() string
	Handle(ctx context.Context, event *Event) error
	Close()
}
