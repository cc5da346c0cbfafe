package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueCleared  = errors.New("rate limiter queue cleared")
	ErrLimiterClosed = errors.New("rate limiter closed")
)

const waitSampleWindow = 100

// Task is a unit of work paced by the limiter.
type Task func(ctx context.Context) error

type pendingTask struct {
	task       Task
	result     chan error
	enqueuedAt time.Time
}

// Stats is a read-only snapshot of limiter activity.
type Stats struct {
	QueueDepth     int           `json:"queue_depth"`
	TotalProcessed int64         `json:"total_processed"`
	TotalRejected  int64         `json:"total_rejected"`
	AvgWaitTime    time.Duration `json:"avg_wait_time"`
}

// Limiter serializes asynchronous tasks so that no more than the configured
// number dispatch per second against a downstream dependency. This is a
// pacing limiter, not a concurrency semaphore: exactly one task executes at a
// time and dispatches are spaced by at least the minimum interval. A task
// failure is rejected back to its own caller without halting the drain loop.
type Limiter struct {
	logger       *logrus.Logger
	minInterval  time.Duration
	timeProvider func() time.Time

	mu           sync.Mutex
	queue        []*pendingTask
	lastDispatch time.Time
	processed    int64
	rejected     int64
	waitSamples  []time.Duration
	closed       bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLimiter builds a limiter dispatching at most requestsPerSecond tasks per
// second and starts its drain loop. A non-positive rate is an invalid
// configuration and fails fast.
func NewLimiter(requestsPerSecond float64, logger *logrus.Logger) (*Limiter, error) {
	if requestsPerSecond <= 0 {
		return nil, fmt.Errorf("invalid requests per second: %v", requestsPerSecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		logger:       logger,
		minInterval:  time.Duration(float64(time.Second) / requestsPerSecond),
		timeProvider: time.Now,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	go l.drain()
	return l, nil
}

// Enqueue appends a task to the FIFO queue and returns a channel that
// receives the task's own outcome once it has been dispatched and completed.
func (l *Limiter) Enqueue(task Task) <-chan error {
	p := &pendingTask{
		task:       task,
		result:     make(chan error, 1),
		enqueuedAt: l.timeProvider(),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		p.result <- ErrLimiterClosed
		return p.result
	}
	l.queue = append(l.queue, p)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return p.result
}

// Do enqueues a task and blocks until its outcome is delivered or the caller
// context is cancelled.
func (l *Limiter) Do(ctx context.Context, task Task) error {
	select {
	case err := <-l.Enqueue(task):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of queue depth, totals and the rolling average
// wait time over the most recent samples.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total time.Duration
	for _, s := range l.waitSamples {
		total += s
	}
	avg := time.Duration(0)
	if len(l.waitSamples) > 0 {
		avg = total / time.Duration(len(l.waitSamples))
	}
	return Stats{
		QueueDepth:     len(l.queue),
		TotalProcessed: l.processed,
		TotalRejected:  l.rejected,
		AvgWaitTime:    avg,
	}
}

// ClearQueue rejects and drops every pending task. Dispatched tasks are not
// interrupted. Intended for shutdown and tests only.
func (l *Limiter) ClearQueue() {
	l.mu.Lock()
	dropped := l.queue
	l.queue = nil
	l.rejected += int64(len(dropped))
	l.mu.Unlock()

	for _, p := range dropped {
		p.result <- ErrQueueCleared
	}
	if len(dropped) > 0 {
		l.logger.WithField("dropped", len(dropped)).Warn("rate limiter queue cleared")
	}
}

// Close stops the drain loop and rejects all pending tasks.
func (l *Limiter) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.ClearQueue()
}

func (l *Limiter) drain() {
	for {
		// Pacing happens before the pop so that queued tasks remain eligible
		// for ClearQueue until the moment they dispatch.
		if wait := l.untilNextDispatch(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-l.ctx.Done():
				return
			}
		}

		p := l.pop()
		if p == nil {
			select {
			case <-l.wake:
				continue
			case <-l.ctx.Done():
				return
			}
		}

		now := l.timeProvider()
		l.mu.Lock()
		l.lastDispatch = now
		l.recordWait(now.Sub(p.enqueuedAt))
		l.mu.Unlock()

		err := l.run(p.task)

		l.mu.Lock()
		if err != nil {
			l.rejected++
		} else {
			l.processed++
		}
		l.mu.Unlock()

		p.result <- err
	}
}

func (l *Limiter) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			l.logger.WithField("panic", r).Error("rate limited task panicked")
		}
	}()
	return task(l.ctx)
}

func (l *Limiter) pop() *pendingTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	p := l.queue[0]
	l.queue = l.queue[1:]
	return p
}

func (l *Limiter) untilNextDispatch() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastDispatch.IsZero() {
		return 0
	}
	elapsed := l.timeProvider().Sub(l.lastDispatch)
	return l.minInterval - elapsed
}

func (l *Limiter) recordWait(wait time.Duration) {
	l.waitSamples = append(l.waitSamples, wait)
	if len(l.waitSamples) > waitSampleWindow {
		l.waitSamples = l.waitSamples[len(l.waitSamples)-waitSampleWindow:]
	}
}
