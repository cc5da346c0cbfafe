package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// snapshotCache is a read-through cache of one externally fetched snapshot.
// Refresh runs under the mutex so concurrent scans never trigger duplicate
// fetches. A failed refresh serves the previous snapshot when one exists;
// only the very first refresh can surface an error.
type snapshotCache[T any] struct {
	name   string
	ttl    time.Duration
	logger *logrus.Logger

	mu        sync.Mutex
	value     T
	fetchedAt time.Time
	hasValue  bool
	now       func() time.Time
}

func newSnapshotCache[T any](name string, ttl time.Duration, logger *logrus.Logger) *snapshotCache[T] {
	return &snapshotCache[T]{
		name:   name,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (c *snapshotCache[T]) get(ctx context.Context, refresh func(ctx context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasValue && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, nil
	}

	value, err := refresh(ctx)
	if err != nil {
		if c.hasValue {
			c.logger.WithError(err).
				WithField("cache", c.name).
				Warn("snapshot refresh failed, serving stale data")
			return c.value, nil
		}
		var zero T
		return zero, err
	}

	c.value = value
	c.fetchedAt = c.now()
	c.hasValue = true
	return c.value, nil
}
