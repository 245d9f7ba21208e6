// Package endpointpool selects which remote-sandbox service endpoint a
// run is dispatched to, out of a statically configured list. It
// supports round-robin (the default) and sticky-by-key selection, so
// repeated requests against the same dataset can land on the same
// remote worker and benefit from any warm cache it keeps.
package endpointpool

import (
	"fmt"
	"sync"
)

// Strategy selects how Pool.Select picks an endpoint.
type Strategy string

const (
	// StrategyRoundRobin cycles through endpoints in order.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategySticky routes all requests sharing a key to the same
	// endpoint, assigned round-robin on first sight.
	StrategySticky Strategy = "sticky"
)

// Pool holds a fixed list of endpoint URLs and round-robin/sticky
// selection state across concurrent callers.
type Pool struct {
	mu        sync.Mutex
	endpoints []string
	strategy  Strategy
	rrIndex   int
	sticky    map[string]int
}

// New constructs a Pool. endpoints must be non-empty.
func New(endpoints []string, strategy Strategy) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("endpointpool: endpoints must be non-empty")
	}
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &Pool{
		endpoints: endpoints,
		strategy:  strategy,
		sticky:    make(map[string]int),
	}, nil
}

// Select returns the next endpoint. key is required and used as the
// sticky key when the pool's strategy is sticky; it is ignored under
// round-robin.
func (p *Pool) Select(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.strategy {
	case StrategySticky:
		if idx, ok := p.sticky[key]; ok {
			return p.endpoints[idx], nil
		}
		idx := p.rrIndex % len(p.endpoints)
		p.rrIndex++
		p.sticky[key] = idx
		return p.endpoints[idx], nil
	case StrategyRoundRobin:
		idx := p.rrIndex % len(p.endpoints)
		p.rrIndex++
		return p.endpoints[idx], nil
	default:
		return "", fmt.Errorf("endpointpool: unknown strategy %q", p.strategy)
	}
}

// Forget clears a sticky assignment, so the next Select for key is
// re-assigned round-robin. Used when an endpoint is reported
// unreachable and the caller wants to retry against a different one.
func (p *Pool) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sticky, key)
}

// Len returns the number of endpoints in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}
