// Package executor defines the uniform contract every sandbox backend
// implements, and a factory that selects a backend by configuration.
// All three backends (localcontainer, remotesandbox, clusterjob)
// normalize every outcome into types.RunnerResponse internally; callers
// never see backend-specific errors.
package executor

import (
	"context"
	"fmt"

	"github.com/tabularun/tabularun/types"
)

// Executor is the uniform operation set implemented by every sandbox
// backend.
type Executor interface {
	// Submit runs req to completion and returns its terminal outcome.
	// Synchronous with respect to completion: it returns only once the
	// run reaches a terminal state (succeeded, failed, or timed out).
	Submit(ctx context.Context, req *types.RunnerRequest) (runID string, resp *types.RunnerResponse, err error)
	// Status reports the current status of a run. Backends that are
	// synchronous end-to-end (as Submit implies) report Succeeded or
	// Failed immediately after Submit returns; Status exists for
	// uniformity with backends that may expose intermediate polling.
	Status(ctx context.Context, runID string) (types.RunnerStatus, error)
	// Result returns the normalized response if the run is terminal,
	// else nil.
	Result(ctx context.Context, runID string) (*types.RunnerResponse, error)
	// Cancel best-effort terminates a run. Idempotent: cancelling a
	// terminal or already-cancelled run is a no-op.
	Cancel(ctx context.Context, runID string) error
	// Cleanup releases any residual backend resources for runID.
	// Idempotent.
	Cleanup(ctx context.Context, runID string) error
}

// Provider names the three backend kinds, selected via
// config.SandboxConfig.Provider.
type Provider string

const (
	ProviderLocal   Provider = "local"
	ProviderRemote  Provider = "remote"
	ProviderCluster Provider = "cluster"
)

// Factory constructs the Executor for the configured provider. Each
// backend package registers its constructor via Register so this
// package has no import-time dependency on the backend packages
// (avoiding e.g. a hard dependency on k8s.io/client-go for deployments
// that never select the cluster provider).
type Factory struct {
	constructors map[Provider]func() (Executor, error)
}

// NewFactory builds an empty factory; backends register themselves.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[Provider]func() (Executor, error))}
}

// Register associates a provider name with a constructor. Called from
// buildExecutor in cli/cmd/run.go, once per backend, when the run
// command builds its executor.
func (f *Factory) Register(p Provider, ctor func() (Executor, error)) {
	f.constructors[p] = ctor
}

// Build constructs the Executor for p.
func (f *Factory) Build(p Provider) (Executor, error) {
	ctor, ok := f.constructors[p]
	if !ok {
		return nil, fmt.Errorf("executor: no backend registered for provider %q", p)
	}
	return ctor()
}
