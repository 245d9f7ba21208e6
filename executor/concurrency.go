package executor

import (
	"context"
	"sync/atomic"

	"github.com/tabularun/tabularun/types"
)

// ConcurrencyLimiter wraps an Executor with a global counting semaphore,
// bounding how many Submit calls are in flight at once regardless of
// which backend is selected. This is the process-wide concurrency cap,
// kept as a decorator rather than built into each backend so the cap
// applies uniformly no matter which Executor the factory constructs.
type ConcurrencyLimiter struct {
	inner Executor
	sem   chan struct{}

	submitted atomic.Int64
	rejected  atomic.Int64
	active    atomic.Int64
}

// NewConcurrencyLimiter wraps inner with a cap of maxConcurrent
// in-flight submissions.
func NewConcurrencyLimiter(inner Executor, maxConcurrent int) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &ConcurrencyLimiter{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

// Submit blocks until a slot is free (or ctx is cancelled), then
// delegates to the wrapped Executor.
func (c *ConcurrencyLimiter) Submit(ctx context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.rejected.Add(1)
		return "", nil, ctx.Err()
	}
	c.submitted.Add(1)
	c.active.Add(1)
	defer func() {
		c.active.Add(-1)
		<-c.sem
	}()

	return c.inner.Submit(ctx, req)
}

func (c *ConcurrencyLimiter) Status(ctx context.Context, runID string) (types.RunnerStatus, error) {
	return c.inner.Status(ctx, runID)
}

func (c *ConcurrencyLimiter) Result(ctx context.Context, runID string) (*types.RunnerResponse, error) {
	return c.inner.Result(ctx, runID)
}

func (c *ConcurrencyLimiter) Cancel(ctx context.Context, runID string) error {
	return c.inner.Cancel(ctx, runID)
}

func (c *ConcurrencyLimiter) Cleanup(ctx context.Context, runID string) error {
	return c.inner.Cleanup(ctx, runID)
}

// Stats is a point-in-time snapshot of concurrency-limiter counters.
type Stats struct {
	Submitted int64
	Rejected  int64
	Active    int64
}

// Stats returns a snapshot of submission counters.
func (c *ConcurrencyLimiter) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Rejected:  c.rejected.Load(),
		Active:    c.active.Load(),
	}
}

var _ Executor = (*ConcurrencyLimiter)(nil)
