package policy

import (
	"sync"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// Stats is an immutable snapshot of Gate's pass/reject counters.
type Stats struct {
	SQLPassed      int64
	SQLRejected    int64
	PlanPassed     int64
	PlanRejected   int64
	PythonPassed   int64
	PythonRejected int64
	RejectedByKind map[string]int64
}

// statsRecorder is a mutex-guarded counter set; the only mutable state
// in this package. Gate is the sole owner of one recorder instance.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: Stats{RejectedByKind: make(map[string]int64)}}
}

func (r *statsRecorder) recordSQL(err error)    { r.record(err, &r.stats.SQLPassed, &r.stats.SQLRejected) }
func (r *statsRecorder) recordPlan(err error)   { r.record(err, &r.stats.PlanPassed, &r.stats.PlanRejected) }
func (r *statsRecorder) recordPython(err error) { r.record(err, &r.stats.PythonPassed, &r.stats.PythonRejected) }

func (r *statsRecorder) record(err error, passed, rejected *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		*passed++
		return
	}
	*rejected++
	if kind, ok := taxonomy.KindOf(err); ok {
		r.stats.RejectedByKind[kind.String()]++
	}
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.RejectedByKind = make(map[string]int64, len(r.stats.RejectedByKind))
	for k, v := range r.stats.RejectedByKind {
		s.RejectedByKind[k] = v
	}
	return s
}

// Gate is the single entry point every submission passes through
// before reaching an executor: SQL allow/deny, plan compilation, and
// Python AST policy, each instrumented with pass/reject counters.
type Gate struct {
	limits   CompilerLimits
	recorder *statsRecorder
}

// NewGate constructs a Gate with the given compiler limits.
func NewGate(limits CompilerLimits) *Gate {
	return &Gate{limits: limits, recorder: newStatsRecorder()}
}

// CheckSQL normalizes and validates a literal SQL submission.
func (g *Gate) CheckSQL(sql, datasetID string) (string, error) {
	normalized, err := CompileFastPathSQL(sql, datasetID)
	g.recorder.recordSQL(err)
	return normalized, err
}

// CheckPlan validates and compiles a structured query plan.
func (g *Gate) CheckPlan(p *types.QueryPlan, ds *types.DatasetDescriptor) (*CompiledPlan, error) {
	compiled, err := CompilePlan(p, ds, g.limits)
	g.recorder.recordPlan(err)
	return compiled, err
}

// CheckPython validates a submitted Python program against the AST
// policy.
func (g *Gate) CheckPython(src string) error {
	err := ValidatePython(src)
	g.recorder.recordPython(err)
	return err
}

// Stats returns an atomic snapshot of the gate's counters.
func (g *Gate) Stats() Stats {
	return g.recorder.snapshot()
}
