// Package webhook posts capsule-completion notifications to a
// configurable HTTP endpoint: a JSON-POST-with-retry sink retargeted
// from a fixed RunCompletedEvent schema to CapsuleCompletedEvent.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tabularun/tabularun/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// CapsuleCompletedEvent is the payload posted when a run capsule is
// written — the webhook sink's view of types.RunCapsule, trimmed to
// what a downstream notification needs (no row data).
type CapsuleCompletedEvent struct {
	EventType  string `json:"event_type"` // always "capsule_completed"
	RunID      string `json:"run_id"`
	DatasetID  string `json:"dataset_id"`
	ThreadID   string `json:"thread_id,omitempty"`
	QueryMode  string `json:"query_mode"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"` // ISO 8601
	ExecTimeMs int64  `json:"exec_time_ms"`
	ErrorType  string `json:"error_type,omitempty"`
}

// Config configures the webhook sink.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure; 0 means a
	// single attempt.
	Retries int
}

// Sink publishes capsule completion events via HTTP POST.
type Sink struct {
	config Config
	client *http.Client
}

// New creates a webhook sink from cfg. Returns an error if URL is
// empty.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Sink{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Publish sends event as a JSON POST request, retrying with
// exponential backoff on 5xx responses and network errors. 4xx
// responses are non-retriable and fail immediately.
func (s *Sink) Publish(ctx context.Context, event *CapsuleCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + s.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = s.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (s *Sink) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases sink resources.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
