package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueryMode records how a submission was executed, for audit purposes.
type QueryMode string

const (
	// QueryModeSQL is a fast-path SQL submission ("SQL: ..." prefix).
	QueryModeSQL QueryMode = "sql"
	// QueryModePlan is a structured-plan submission compiled to SQL.
	QueryModePlan QueryMode = "plan"
	// QueryModePython is a fast-path or tool-driven Python submission.
	QueryModePython QueryMode = "python"
	// QueryModeChat is a planner turn that produced no execution tool
	// call — a conversational reply with no sandbox invocation.
	QueryModeChat QueryMode = "chat"
)

// CapsuleStatus is the terminal status of a submission.
type CapsuleStatus string

const (
	CapsuleSucceeded CapsuleStatus = "succeeded"
	CapsuleFailed    CapsuleStatus = "failed"
	CapsuleRejected  CapsuleStatus = "rejected"
	CapsuleTimedOut  CapsuleStatus = "timed_out"
)

// ResultPreview is the bounded result carried in a capsule: the same
// shape as RunnerResponse's success fields, without the raw stdout/
// stderr bodies.
type ResultPreview struct {
	Columns    []string `json:"columns" msgpack:"columns"`
	Rows       [][]Cell `json:"rows" msgpack:"rows"`
	RowCount   int      `json:"row_count" msgpack:"row_count"`
	ExecTimeMs int64    `json:"exec_time_ms" msgpack:"exec_time_ms"`
}

// RunCapsule is the immutable audit record of one submission. Created
// exactly once per accepted submission; never mutated after Put.
type RunCapsule struct {
	RunID      string          `json:"run_id" msgpack:"run_id"`
	CreatedAt  time.Time       `json:"created_at" msgpack:"created_at"`
	DatasetID  string          `json:"dataset_id" msgpack:"dataset_id"`
	ThreadID   string          `json:"thread_id,omitempty" msgpack:"thread_id,omitempty"`
	Question   string          `json:"question" msgpack:"question"`
	QueryMode  QueryMode       `json:"query_mode" msgpack:"query_mode"`
	CompiledSQL string         `json:"compiled_sql,omitempty" msgpack:"compiled_sql,omitempty"`
	PlanJSON   json.RawMessage `json:"plan_json,omitempty" msgpack:"plan_json,omitempty"`
	PythonCode string          `json:"python_code,omitempty" msgpack:"python_code,omitempty"`
	Status     CapsuleStatus   `json:"status" msgpack:"status"`
	Result     *ResultPreview  `json:"result_json,omitempty" msgpack:"result_json,omitempty"`
	Error      *RunnerError    `json:"error_json,omitempty" msgpack:"error_json,omitempty"`
	ExecTimeMs int64           `json:"exec_time_ms" msgpack:"exec_time_ms"`
}

// Validate checks the capsule's invariants per the data model: a chat
// turn carries no compiled artifact or rows, and a succeeded capsule
// must carry a result.
func (c *RunCapsule) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("capsule: run_id must be non-empty")
	}
	if c.DatasetID == "" {
		return fmt.Errorf("capsule: dataset_id must be non-empty")
	}
	switch c.QueryMode {
	case QueryModeSQL, QueryModePlan, QueryModePython, QueryModeChat:
	default:
		return fmt.Errorf("capsule: invalid query_mode %q", c.QueryMode)
	}
	if c.QueryMode == QueryModeChat {
		if c.CompiledSQL != "" || c.PlanJSON != nil || c.PythonCode != "" {
			return fmt.Errorf("capsule: query_mode=chat must not carry a compiled artifact")
		}
		if c.Result != nil && len(c.Result.Rows) > 0 {
			return fmt.Errorf("capsule: query_mode=chat must not carry result rows")
		}
	}
	switch c.Status {
	case CapsuleSucceeded, CapsuleFailed, CapsuleRejected, CapsuleTimedOut:
	default:
		return fmt.Errorf("capsule: invalid status %q", c.Status)
	}
	if c.Status == CapsuleSucceeded && c.Result == nil {
		return fmt.Errorf("capsule: status=succeeded requires a result")
	}
	return nil
}

// RowsWithinBound reports whether the capsule's result respects a
// max-rows bound, used by testable-property checks and tests.
func (c *RunCapsule) RowsWithinBound(maxRows int) bool {
	if c.Result == nil {
		return true
	}
	return len(c.Result.Rows) <= maxRows
}
