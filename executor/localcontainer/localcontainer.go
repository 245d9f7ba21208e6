// Package localcontainer implements the Local-Container Executor: it
// launches the runner image as a single hardened container per run via
// the host's docker or podman CLI, writes the runner request as one
// JSON document to the container's stdin, and reads one JSON document
// back from stdout. It is the default sandbox backend.
package localcontainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tabularun/tabularun/runnerproto"
	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// Config configures the Local-Container Executor.
type Config struct {
	// ContainerRuntime is the CLI binary to invoke ("docker" or "podman").
	ContainerRuntime string
	// RunnerImage is the pinned runner image reference.
	RunnerImage string
	// DatasetDir is the host directory mounted read-only at /data.
	DatasetDir string
	// RunTimeout bounds wall-clock execution before the container is
	// killed and the run is synthesized as a timeout.
	RunTimeout time.Duration
	// MaxConcurrency caps the number of containers running at once.
	MaxConcurrency int
	// MemoryLimit is passed to --memory (e.g. "512m").
	MemoryLimit string
	// CPULimit is passed to --cpus (e.g. "1.0").
	CPULimit string
	// PidsLimit is passed to --pids-limit.
	PidsLimit int
	// RunAsUser is passed to --user (e.g. "65534:65534").
	RunAsUser string
}

// Executor runs requests in one-shot hardened containers.
type Executor struct {
	cfg Config
	sem chan struct{}

	mu      sync.Mutex
	results map[string]*types.RunnerResponse
}

// New constructs a Local-Container Executor.
func New(cfg Config) *Executor {
	if cfg.ContainerRuntime == "" {
		cfg.ContainerRuntime = "docker"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Executor{
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
		results: make(map[string]*types.RunnerResponse),
	}
}

// Submit runs req in a freshly launched container and blocks until it
// completes, is killed on timeout, or the caller's context is
// cancelled.
func (e *Executor) Submit(ctx context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	if err := req.Validate(); err != nil {
		return "", nil, taxonomy.Wrap(taxonomy.ErrValidation, "invalid runner request", err)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	runID := uuid.NewString()

	timeout := e.cfg.RunTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := runnerproto.Encode(req)
	if err != nil {
		return runID, nil, err
	}

	cmd := exec.CommandContext(runCtx, e.cfg.ContainerRuntime, e.containerArgs()...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		resp := timeoutResponse(timeout)
		e.store(runID, resp)
		return runID, resp, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return runID, nil, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code := exitCode(exitErr)
			resp := types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR",
				fmt.Sprintf("container exited %d: %s", code, firstLine(stderr.Bytes())))
			e.store(runID, resp)
			return runID, resp, nil
		}
		return runID, nil, taxonomy.Wrap(taxonomy.ErrRunnerInternal, "failed to launch container", runErr)
	}

	resp, err := runnerproto.Decode(stdout.Bytes())
	if err != nil {
		resp = types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", err.Error())
	}
	resp = runnerproto.ShapeOutput(resp, req)
	e.store(runID, resp)
	return runID, resp, nil
}

// Status reports Succeeded/Failed/TimedOut once Submit has returned;
// this backend has no intermediate polling state.
func (e *Executor) Status(_ context.Context, runID string) (types.RunnerStatus, error) {
	resp, ok := e.get(runID)
	if !ok {
		return "", fmt.Errorf("localcontainer: unknown run %q", runID)
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
		return nil, fmt.Errorf("localcontainer: unknown run %q", runID)
	}
	return resp, nil
}

// Cancel is a no-op: Submit is synchronous, so by the time a caller
// could observe runID the container has already exited.
func (e *Executor) Cancel(_ context.Context, _ string) error {
	return nil
}

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

// containerArgs builds the hardened `run` invocation: read-only root
// filesystem, a small noexec tmpfs for scratch space, no network, all
// capabilities dropped, no privilege escalation, bounded pids/memory/
// cpu, an unprivileged numeric user, and the dataset directory mounted
// read-only.
func (e *Executor) containerArgs() []string {
	args := []string{
		"run", "--rm", "-i",
		"--read-only",
		"--tmpfs", "/tmp:noexec,nosuid,size=64m",
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	}
	if e.cfg.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", e.cfg.PidsLimit))
	}
	if e.cfg.MemoryLimit != "" {
		args = append(args, "--memory", e.cfg.MemoryLimit)
	}
	if e.cfg.CPULimit != "" {
		args = append(args, "--cpus", e.cfg.CPULimit)
	}
	if e.cfg.RunAsUser != "" {
		args = append(args, "--user", e.cfg.RunAsUser)
	}
	if e.cfg.DatasetDir != "" {
		args = append(args, "-v", e.cfg.DatasetDir+":/data:ro")
	}
	args = append(args, e.cfg.RunnerImage)
	return args
}

func timeoutResponse(timeout time.Duration) *types.RunnerResponse {
	return types.NewErrorResponse(types.RunnerResultTimeout, "RUNNER_TIMEOUT",
		fmt.Sprintf("run exceeded %s", timeout))
}

func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		return status.ExitStatus()
	}
	return -1
}

func firstLine(b []byte) string {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		if len(b) > 200 {
			return string(b[:200])
		}
		return string(b)
	}
	if i > 200 {
		i = 200
	}
	return string(b[:i])
}
