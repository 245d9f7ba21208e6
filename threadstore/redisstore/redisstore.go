// Package redisstore implements threadstore.Store over Redis, for
// deployments where the planner's thread history must be shared across
// processes. A thread log must be read back, not just broadcast, so
// this uses list
// operations (RPUSH/LRANGE) on a per-thread key instead of PUBLISH.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tabularun/tabularun/threadstore"
	"github.com/tabularun/tabularun/types"
)

// DefaultTimeout is the default per-operation timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is a suggested number of retry attempts; New does not
// apply it.
const DefaultRetries = 3

// Config configures the Redis-backed thread store.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Timeout is the per-operation timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure; 0 means a
	// single attempt.
	Retries int
}

// Store is a Redis-backed threadstore.Store. Each thread's messages
// live in one list at key "thread:<id>", appended with RPUSH and read
// back with LRANGE; order is therefore oldest-first, matching Recent's
// contract with no extra sort step.
type Store struct {
	config Config
	client *goredis.Client
}

var _ threadstore.Store = (*Store)(nil)

// New creates a Redis thread store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redisstore: requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstore: invalid URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("redisstore: retries must be >= 0, got %d", cfg.Retries)
	}
	return &Store{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func key(threadID string) string {
	return "thread:" + threadID
}

// Append RPUSHes m's JSON encoding onto its thread's list, retrying
// with exponential backoff on any error.
func (s *Store) Append(ctx context.Context, m *types.ThreadMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redisstore: marshal message: %w", err)
	}
	return s.withRetry(ctx, func(opCtx context.Context) error {
		return s.client.RPush(opCtx, key(m.ThreadID), body).Err()
	})
}

// Recent LRANGEs the most recent limit entries from the thread's list,
// oldest first. limit <= 0 returns the whole list.
func (s *Store) Recent(ctx context.Context, threadID string, limit int) ([]*types.ThreadMessage, error) {
	var raw []string
	err := s.withRetry(ctx, func(opCtx context.Context) error {
		var start int64
		if limit > 0 {
			start = -int64(limit)
		}
		vals, rerr := s.client.LRange(opCtx, key(threadID), start, -1).Result()
		if rerr != nil {
			return rerr
		}
		raw = vals
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*types.ThreadMessage, 0, len(raw))
	for _, v := range raw {
		var m types.ThreadMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) withRetry(ctx context.Context, op func(context.Context) error) error {
	attempts := 1 + s.config.Retries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redisstore: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redisstore: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		lastErr = op(opCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redisstore: failed after %d attempts: %w", attempts, lastErr)
}
