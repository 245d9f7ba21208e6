// Package threadstore defines the pluggable append-only thread-history
// log: the bounded slice of prior user/assistant turns re-supplied to
// the planner on every request. Two backends implement Store —
// threadstore/memory (tests, single-process deployments) and
// threadstore/redisstore (production, shared across processes).
package threadstore

import (
	"context"

	"github.com/tabularun/tabularun/types"
)

// Store persists and retrieves thread messages. Implementations need
// not support arbitrary random access — only append and a bounded
// most-recent-N read, the two operations the agent loop performs.
type Store interface {
	// Append adds one message to the end of its thread's history.
	Append(ctx context.Context, m *types.ThreadMessage) error
	// Recent returns up to limit of the most recent messages in
	// thread_id order, oldest first, ready to hand to the planner
	// as-is. limit <= 0 means no bound.
	Recent(ctx context.Context, threadID string, limit int) ([]*types.ThreadMessage, error)
}
