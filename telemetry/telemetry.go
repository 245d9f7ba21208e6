// Package telemetry provides per-process metrics collection for the
// gateway: run lifecycle, policy-gate pass/reject counts, executor
// submission outcomes, and capsule-store write outcomes. It is a leaf
// package with no internal dependencies, generalized from the
// teacher-repo pattern of a single mutex-guarded Collector with
// nil-receiver-safe increment methods — so a caller that never wires
// telemetry can pass a nil *Collector everywhere without a branch.
package telemetry

import "sync"

// Snapshot is an immutable point-in-time view of every counter.
// Safe to read concurrently after construction.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64
	RunsRejected  int64
	RunsTimedOut  int64
	RunsNotFound  int64

	// Policy gate (added by AbsorbPolicyStats; the request path does
	// not call it, so these stay zero unless a caller does)
	SQLPassed      int64
	SQLRejected    int64
	PlanPassed     int64
	PlanRejected   int64
	PythonPassed   int64
	PythonRejected int64
	RejectedByKind map[string]int64

	// Executor
	ExecutorSubmitSuccess int64
	ExecutorSubmitFailure int64

	// Capsule store
	CapsuleWriteSuccess int64
	CapsuleWriteFailure int64

	// Dimensions (informational, set at construction)
	LLMProvider    string
	SandboxBackend string
	CapsuleBackend string
}

// Collector accumulates metrics for one process. Thread-safe via
// sync.Mutex. Every method is nil-receiver safe, so an Agent built
// without telemetry configured can hold a nil *Collector.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsSucceeded int64
	runsFailed    int64
	runsRejected  int64
	runsTimedOut  int64
	runsNotFound  int64

	sqlPassed      int64
	sqlRejected    int64
	planPassed     int64
	planRejected   int64
	pythonPassed   int64
	pythonRejected int64
	rejectedByKind map[string]int64

	executorSubmitSuccess int64
	executorSubmitFailure int64

	capsuleWriteSuccess int64
	capsuleWriteFailure int64

	llmProvider    string
	sandboxBackend string
	capsuleBackend string
}

// NewCollector creates a Collector with dimension labels describing
// this process's configured backends.
func NewCollector(llmProvider, sandboxBackend, capsuleBackend string) *Collector {
	return &Collector{
		rejectedByKind: make(map[string]int64),
		llmProvider:    llmProvider,
		sandboxBackend: sandboxBackend,
		capsuleBackend: capsuleBackend,
	}
}

// IncRunStarted records a request entering the agent loop.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunOutcome records a request's terminal status, by its agent.Status
// string ("succeeded", "failed", "rejected", "timed_out", "not_found").
// Accepting the status as a string (rather than importing package agent)
// keeps this leaf package free of a dependency on the loop it observes.
func (c *Collector) IncRunOutcome(status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case "succeeded":
		c.runsSucceeded++
	case "failed":
		c.runsFailed++
	case "rejected":
		c.runsRejected++
	case "timed_out":
		c.runsTimedOut++
	case "not_found":
		c.runsNotFound++
	}
}

// AbsorbPolicyStats adds the given pass/reject counts to the
// collector's totals, mirroring policy.Stats's shape without this
// package importing policy.
func (c *Collector) AbsorbPolicyStats(sqlPassed, sqlRejected, planPassed, planRejected, pythonPassed, pythonRejected int64, rejectedByKind map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sqlPassed += sqlPassed
	c.sqlRejected += sqlRejected
	c.planPassed += planPassed
	c.planRejected += planRejected
	c.pythonPassed += pythonPassed
	c.pythonRejected += pythonRejected
	for k, v := range rejectedByKind {
		c.rejectedByKind[k] += v
	}
}

// IncExecutorSubmitSuccess records a sandbox submission that returned a
// normalized response (success, runner error, or timeout all count —
// this tracks transport health, not query outcome).
func (c *Collector) IncExecutorSubmitSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorSubmitSuccess++
	c.mu.Unlock()
}

// IncExecutorSubmitFailure records a sandbox submission that failed at
// the transport level (backend unavailable).
func (c *Collector) IncExecutorSubmitFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorSubmitFailure++
	c.mu.Unlock()
}

// IncCapsuleWriteSuccess records a successful capsule.Store.Put.
func (c *Collector) IncCapsuleWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.capsuleWriteSuccess++
	c.mu.Unlock()
}

// IncCapsuleWriteFailure records a failed capsule.Store.Put.
func (c *Collector) IncCapsuleWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.capsuleWriteFailure++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of every counter.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.rejectedByKind))
	for k, v := range c.rejectedByKind {
		byKind[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsSucceeded: c.runsSucceeded,
		RunsFailed:    c.runsFailed,
		RunsRejected:  c.runsRejected,
		RunsTimedOut:  c.runsTimedOut,
		RunsNotFound:  c.runsNotFound,

		SQLPassed:      c.sqlPassed,
		SQLRejected:    c.sqlRejected,
		PlanPassed:     c.planPassed,
		PlanRejected:   c.planRejected,
		PythonPassed:   c.pythonPassed,
		PythonRejected: c.pythonRejected,
		RejectedByKind: byKind,

		ExecutorSubmitSuccess: c.executorSubmitSuccess,
		ExecutorSubmitFailure: c.executorSubmitFailure,

		CapsuleWriteSuccess: c.capsuleWriteSuccess,
		CapsuleWriteFailure: c.capsuleWriteFailure,

		LLMProvider:    c.llmProvider,
		SandboxBackend: c.sandboxBackend,
		CapsuleBackend: c.capsuleBackend,
	}
}
