package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	taskBufferSize = 1000
	handleTimeout  = 15 * time.Second
)

// Worker delivers events to the configured exporters off the request path.
// Emission never blocks the caller: when the buffer is full the event is
// dropped with a warning. Exporter failures are logged, never surfaced.
type Worker struct {
	logger    *logrus.Logger
	exporters []Exporter
	taskChan  chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
}

func NewWorker(logger *logrus.Logger, exporters ...Exporter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		logger:    logger,
		exporters: exporters,
		taskChan:  make(chan func(), taskBufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (w *Worker) StartWorkers(n int) {
	for i := 0; i < n; i++ {
		go func() {
			for {
				select {
				case task := <-w.taskChan:
					task()
				case <-w.ctx.Done():
					return
				}
			}
		}()
	}
}

// Emit queues an event for asynchronous delivery.
func (w *Worker) Emit(event *Event) {
	if w.closed.Load() {
		return
	}
	w.enqueue(func(context.Context) *Event { return event }, event.Name)
}

// EmitFunc queues an event whose payload is finished on a worker goroutine.
// build runs with the delivery context, so it may perform lookups too slow
// for a response handler. Returning nil drops the event.
func (w *Worker) EmitFunc(build func(ctx context.Context) *Event) {
	if w.closed.Load() {
		return
	}
	w.enqueue(build, "deferred")
}

func (w *Worker) enqueue(build func(ctx context.Context) *Event, name string) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		event := build(ctx)
		if event == nil {
			return
		}
		for _, exporter := range w.exporters {
			if err := exporter.Handle(ctx, event); err != nil {
				w.logger.WithError(err).WithFields(logrus.Fields{
					"exporter": exporter.Name(),
					"event":    event.Name,
				}).Error("telemetry exporter failed")
			}
		}
	}
	select {
	case w.taskChan <- task:
	default:
		w.logger.WithField("event", name).Warn("telemetry buffer full, dropping event")
	}
}

func (w *Worker) Shutdown() {
	w.closed.Store(true)
	w.cancel()
	for _, exporter := range w.exporters {
		exporter.Close()
	}
	w.logger.Info("telemetry workers stopped")
}
