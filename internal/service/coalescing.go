package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// inFlightFetch is one upstream fetch that concurrent misses for the
// same key may wait on. result and err are written exactly once, before
// done is closed, and only read after done.
type inFlightFetch struct {
	done   chan struct{}
	result models.Weather
	err    error
}

// coalescer deduplicates concurrent misses per key: the first caller
// executes the fetch, later callers for the same key wait for its
// result instead of going upstream themselves.
type coalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

func newCoalescer(timeout time.Duration) *coalescer {
	return &coalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// Do returns the result of fn for key, executing it at most once across
// concurrent callers. Waiters respect ctx cancellation plus the
// coalescer timeout; the owner's fn is never cancelled by a waiter.
func (c *coalescer) Do(ctx context.Context, key string, fn func() (models.Weather, error)) (models.Weather, error) {
	c.mu.Lock()
	if f, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		waitStart := time.Now()
		waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		select {
		case <-f.done:
			observability.CoalescedRequestsTotal.Inc()
			observability.CoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
			return f.result, f.err
		case <-waitCtx.Done():
			return models.Weather{}, waitCtx.Err()
		}
	}

	f := &inFlightFetch{done: make(chan struct{})}
	c.inFlight[key] = f
	c.mu.Unlock()

	f.result, f.err = fn()

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	close(f.done)

	return f.result, f.err
}
