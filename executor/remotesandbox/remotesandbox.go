// Package remotesandbox implements the Remote-Sandbox Executor: a run
// is dispatched over HTTP to a long-lived sandbox service rather than a
// container launched on this host. The lifecycle is three calls —
// start, exec, stop — against an endpoint picked from an endpointpool.
// Start and stop are retried with exponential backoff; exec is not,
// since a retried execution could duplicate side effects.
package remotesandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tabularun/tabularun/endpointpool"
	"github.com/tabularun/tabularun/runnerproto"
	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// Config configures the Remote-Sandbox Executor.
type Config struct {
	// BearerToken authenticates every request to the sandbox service.
	BearerToken string
	// MaxRetries bounds retry attempts on start/stop calls.
	MaxRetries int
	// HTTPClient is the client used for all calls; defaults to a new
	// http.Client with a 10s timeout when nil.
	HTTPClient *http.Client
	// LocalFallback, when non-nil, is invoked to run req locally
	// (e.g. via localcontainer.Executor.Submit) if the start call
	// against the selected endpoint fails after its retries. Opt-in:
	// nil means no fallback; the run command sets it only when
	// sandbox.remote.fallback_enabled or --remote-fallback-enabled is on.
	LocalFallback func(ctx context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error)
}

// Executor dispatches runs to a pool of remote sandbox services.
type Executor struct {
	cfg  Config
	pool *endpointpool.Pool

	mu      sync.Mutex
	results map[string]*types.RunnerResponse
}

// New constructs a Remote-Sandbox Executor over pool.
func New(cfg Config, pool *endpointpool.Pool) *Executor {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Executor{
		cfg:     cfg,
		pool:    pool,
		results: make(map[string]*types.RunnerResponse),
	}
}

type startResponse struct {
	SandboxID string `json:"sandbox_id"`
}

type execResponse struct {
	Stdout []byte `json:"stdout"`
}

// Submit starts a sandbox session on a pool endpoint (sticky by
// dataset ID, so repeated requests against the same dataset tend to
// land on the same warmed worker), runs req, and tears the session
// down, blocking until the full lifecycle completes or ctx is done.
func (e *Executor) Submit(ctx context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	if err := req.Validate(); err != nil {
		return "", nil, taxonomy.Wrap(taxonomy.ErrValidation, "invalid runner request", err)
	}

	runID := uuid.NewString()

	endpoint, err := e.pool.Select(req.DatasetID)
	if err != nil {
		return runID, nil, taxonomy.Wrap(taxonomy.ErrBackendUnavailable, "no remote sandbox endpoint available", err)
	}

	sandboxID, err := e.start(ctx, endpoint)
	if err != nil {
		if e.cfg.LocalFallback != nil {
			return e.cfg.LocalFallback(ctx, req)
		}
		return runID, nil, taxonomy.Wrap(taxonomy.ErrBackendUnavailable, "remote sandbox start failed", err)
	}
	defer e.stop(context.WithoutCancel(ctx), endpoint, sandboxID)

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.exec(execCtx, endpoint, sandboxID, req)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			resp = types.NewErrorResponse(types.RunnerResultTimeout, "RUNNER_TIMEOUT",
				fmt.Sprintf("remote exec exceeded %s", timeout))
		} else {
			resp = types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", err.Error())
		}
	} else {
		resp = runnerproto.ShapeOutput(resp, req)
	}

	e.store(runID, resp)
	return runID, resp, nil
}

func (e *Executor) start(ctx context.Context, endpoint string) (string, error) {
	var sandboxID string
	op := func() error {
		body, status, err := e.do(ctx, http.MethodPost, endpoint+"/v1/sandboxes", nil)
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("remote sandbox start: server error %d", status)
		}
		if status != http.StatusOK && status != http.StatusCreated {
			return backoff.Permanent(fmt.Errorf("remote sandbox start: unexpected status %d", status))
		}
		var sr startResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return backoff.Permanent(fmt.Errorf("remote sandbox start: decode response: %w", err))
		}
		sandboxID = sr.SandboxID
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return sandboxID, nil
}

func (e *Executor) exec(ctx context.Context, endpoint, sandboxID string, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	payload, err := runnerproto.Encode(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/sandboxes/%s/exec", endpoint, sandboxID)
	body, status, err := e.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("remote sandbox exec: unexpected status %d", status)
	}
	var er execResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return runnerproto.Decode(body)
	}
	return runnerproto.Decode(er.Stdout)
}

// stop tears down the sandbox session. Errors are discarded rather
// than surfaced: a failed teardown
// does not change the already-determined run outcome, and ctx here is
// always context.WithoutCancel so cleanup proceeds even if the parent
// request context was cancelled.
func (e *Executor) stop(ctx context.Context, endpoint, sandboxID string) {
	op := func() error {
		url := fmt.Sprintf("%s/v1/sandboxes/%s", endpoint, sandboxID)
		_, status, err := e.do(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("remote sandbox stop: server error %d", status)
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.MaxRetries)), ctx)
	_ = backoff.Retry(op, bo)
}

func (e *Executor) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	if e.cfg.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.BearerToken)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, err
	}
	return respBody, httpResp.StatusCode, nil
}

// Status reports Succeeded/Failed/TimedOut once Submit has returned.
func (e *Executor) Status(_ context.Context, runID string) (types.RunnerStatus, error) {
	resp, ok := e.get(runID)
	if !ok {
		return "", fmt.Errorf("remotesandbox: unknown run %q", runID)
	}
	switch resp.Status {
	case types.RunnerResultSuccess:
		return types.RunnerStatusSucceeded, nil
	case types.RunnerResultTimeout:
		return types.RunnerStatusTimedOut, nil
	default:
		return types.RunnerStatusFailed, nil
	}
}

// Result returns the normalized response recorded by Submit.
func (e *Executor) Result(_ context.Context, runID string) (*types.RunnerResponse, error) {
	resp, ok := e.get(runID)
	if !ok {
		return nil, fmt.Errorf("remotesandbox: unknown run %q", runID)
	}
	return resp, nil
}

// Cancel is a no-op: Submit is synchronous end-to-end.
func (e *Executor) Cancel(_ context.Context, _ string) error { return nil }

// Cleanup drops the cached result for runID.
func (e *Executor) Cleanup(_ context.Context, runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.results, runID)
	return nil
}

func (e *Executor) store(runID string, resp *types.RunnerResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[runID] = resp
}

func (e *Executor) get(runID string) (*types.RunnerResponse, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, ok := e.results[runID]
	return resp, ok
}
