// Package memory implements threadstore.Store in-process, backed by a
// mutex-guarded map of slices. It is the default backend for tests and
// single-process deployments; threadstore/redisstore is the
// multi-process equivalent.
package memory

import (
	"context"
	"sync"

	"github.com/tabularun/tabularun/threadstore"
	"github.com/tabularun/tabularun/types"
)

// Store is an in-memory threadstore.Store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	messages map[string][]*types.ThreadMessage
}

var _ threadstore.Store = (*Store)(nil)

// New returns an empty in-memory thread store.
func New() *Store {
	return &Store{messages: make(map[string][]*types.ThreadMessage)}
}

func (s *Store) Append(_ context.Context, m *types.ThreadMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], &cp)
	return nil
}

func (s *Store) Recent(_ context.Context, threadID string, limit int) ([]*types.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[threadID]
	if limit <= 0 || limit >= len(all) {
		out := make([]*types.ThreadMessage, len(all))
		copy(out, all)
		return out, nil
	}
	start := len(all) - limit
	out := make([]*types.ThreadMessage, limit)
	copy(out, all[start:])
	return out, nil
}
