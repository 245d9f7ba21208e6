package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tabularun/tabularun/types"
)

type fakeExecutor struct {
	mu         sync.Mutex
	inFlight   int
	maxInFlight int
	delay      time.Duration
}

func (f *fakeExecutor) Submit(ctx context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	return "run", &types.RunnerResponse{Status: types.RunnerResultSuccess}, nil
}

func (f *fakeExecutor) Status(context.Context, string) (types.RunnerStatus, error) {
	return types.RunnerStatusSucceeded, nil
}
func (f *fakeExecutor) Result(context.Context, string) (*types.RunnerResponse, error) {
	return &types.RunnerResponse{Status: types.RunnerResultSuccess}, nil
}
func (f *fakeExecutor) Cancel(context.Context, string) error  { return nil }
func (f *fakeExecutor) Cleanup(context.Context, string) error { return nil }

func TestConcurrencyLimiter_BoundsInFlightSubmissions(t *testing.T) {
	inner := &fakeExecutor{delay: 30 * time.Millisecond}
	limiter := NewConcurrencyLimiter(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = limiter.Submit(context.Background(), &types.RunnerRequest{})
		}()
	}
	wg.Wait()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.maxInFlight > 2 {
		t.Errorf("maxInFlight = %d, want <= 2", inner.maxInFlight)
	}
}

func TestConcurrencyLimiter_ContextCancelWhileWaitingReturnsErr(t *testing.T) {
	inner := &fakeExecutor{delay: 200 * time.Millisecond}
	limiter := NewConcurrencyLimiter(inner, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _, _ = limiter.Submit(context.Background(), &types.RunnerRequest{})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	_, _, err := limiter.Submit(ctx, &types.RunnerRequest{})
	if err == nil {
		t.Fatal("expected error from cancelled context while waiting for a slot")
	}

	stats := limiter.Stats()
	if stats.Rejected == 0 {
		t.Error("expected Rejected counter to be incremented")
	}
}
