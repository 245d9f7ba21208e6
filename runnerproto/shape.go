package runnerproto

import (
	"encoding/json"

	"github.com/tabularun/tabularun/types"
)

// truncatedCellSentinel replaces a row's non-key cell values when even a
// single remaining row cannot fit max_output_bytes; row_count stays
// accurate so callers never infer a row exists that was dropped.
const truncatedCellSentinel = "[truncated]"

// ShapeOutput bounds resp to req's declared limits: rows are first cut
// to max_rows, then — if the serialized response still exceeds
// max_output_bytes — repeatedly halved from the tail and re-serialized
// until it fits. If a single surviving row still exceeds the budget,
// its cells (other than the first, treated as a key column) are
// replaced with a truncation sentinel rather than dropping the row
// entirely, so row_count remains meaningful. stdout_trunc/stderr_trunc
// are independently capped to the same byte budget, trimmed from the
// tail.
func ShapeOutput(resp *types.RunnerResponse, req *types.RunnerRequest) *types.RunnerResponse {
	out := *resp
	out.RowCount = len(out.Rows)

	if len(out.Rows) > req.MaxRows {
		out.Rows = out.Rows[:req.MaxRows]
		out.RowCount = len(out.Rows)
		out.Truncated = true
	}

	out.StdoutTrunc = capTail(out.StdoutTrunc, req.MaxOutputBytes)
	out.StderrTrunc = capTail(out.StderrTrunc, req.MaxOutputBytes)

	// Stop at one remaining row rather than zero: a single oversized row
	// still gets a chance to survive via the cell-masking fallback below
	// instead of being dropped outright.
	for serializedSize(&out) > req.MaxOutputBytes && len(out.Rows) > 1 {
		half := len(out.Rows) / 2
		out.Rows = out.Rows[:half]
		out.RowCount = len(out.Rows)
		out.Truncated = true
	}

	if serializedSize(&out) > req.MaxOutputBytes && len(out.Rows) == 1 {
		out.Rows = [][]types.Cell{sentinelRow(out.Rows[0])}
		out.Truncated = true
	}

	return &out
}

func sentinelRow(row []types.Cell) []types.Cell {
	masked := make([]types.Cell, len(row))
	for i, cell := range row {
		if i == 0 {
			masked[i] = cell
			continue
		}
		masked[i] = truncatedCellSentinel
	}
	return masked
}

func serializedSize(resp *types.RunnerResponse) int {
	b, err := json.Marshal(resp)
	if err != nil {
		return 0
	}
	return len(b)
}

// capTail truncates s to at most maxBytes, cutting from the tail.
func capTail(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}
