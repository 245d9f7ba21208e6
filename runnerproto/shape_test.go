package runnerproto

import (
	"strings"
	"testing"

	"github.com/tabularun/tabularun/types"
)

func TestShapeOutput_CapsToMaxRows(t *testing.T) {
	req := &types.RunnerRequest{MaxRows: 2, MaxOutputBytes: 1 << 20}
	resp := &types.RunnerResponse{
		Status:  types.RunnerResultSuccess,
		Columns: []string{"n"},
		Rows:    [][]types.Cell{{1}, {2}, {3}, {4}},
	}

	out := ShapeOutput(resp, req)
	if len(out.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(out.Rows))
	}
	if out.RowCount != 2 {
		t.Fatalf("row_count = %d, want 2", out.RowCount)
	}
	if !out.Truncated {
		t.Fatal("expected truncated=true")
	}
}

func TestShapeOutput_HalvesWhenOverByteBudget(t *testing.T) {
	rows := make([][]types.Cell, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, []types.Cell{strings.Repeat("x", 200)})
	}
	req := &types.RunnerRequest{MaxRows: 1000, MaxOutputBytes: 2000}
	resp := &types.RunnerResponse{Status: types.RunnerResultSuccess, Columns: []string{"c"}, Rows: rows}

	out := ShapeOutput(resp, req)
	if len(out.Rows) >= 100 {
		t.Fatalf("expected rows to shrink, got %d", len(out.Rows))
	}
	if !out.Truncated {
		t.Fatal("expected truncated=true")
	}
	if serializedSize(out) > req.MaxOutputBytes && len(out.Rows) > 1 {
		t.Fatalf("response still over budget with %d rows remaining", len(out.Rows))
	}
}

func TestShapeOutput_SingleRowExceedsBudgetUsesSentinel(t *testing.T) {
	req := &types.RunnerRequest{MaxRows: 10, MaxOutputBytes: 80}
	resp := &types.RunnerResponse{
		Status:  types.RunnerResultSuccess,
		Columns: []string{"id", "payload"},
		Rows:    [][]types.Cell{{1, strings.Repeat("y", 500)}},
	}

	out := ShapeOutput(resp, req)
	if len(out.Rows) != 1 {
		t.Fatalf("expected row preserved with sentinel, got %d rows", len(out.Rows))
	}
	if out.Rows[0][1] != truncatedCellSentinel {
		t.Fatalf("expected sentinel cell, got %v", out.Rows[0][1])
	}
	if out.Rows[0][0] != 1 {
		t.Fatalf("expected key cell preserved, got %v", out.Rows[0][0])
	}
	if out.RowCount != 1 {
		t.Fatalf("row_count = %d, want 1", out.RowCount)
	}
}

func TestShapeOutput_HalvingReachesSingleRowThenMasksIt(t *testing.T) {
	req := &types.RunnerRequest{MaxRows: 10, MaxOutputBytes: 80}
	resp := &types.RunnerResponse{
		Status:  types.RunnerResultSuccess,
		Columns: []string{"id", "payload"},
		Rows: [][]types.Cell{
			{1, strings.Repeat("y", 500)},
			{2, strings.Repeat("y", 500)},
			{3, strings.Repeat("y", 500)},
		},
	}

	out := ShapeOutput(resp, req)
	if len(out.Rows) != 1 {
		t.Fatalf("expected halving to stop at 1 row, got %d rows", len(out.Rows))
	}
	if out.Rows[0][1] != truncatedCellSentinel {
		t.Fatalf("expected the surviving row to be sentinel-masked, got %v", out.Rows[0][1])
	}
	if out.Rows[0][0] != 1 {
		t.Fatalf("expected key cell of the first remaining row preserved, got %v", out.Rows[0][0])
	}
	if !out.Truncated {
		t.Fatal("expected truncated=true")
	}
}

func TestShapeOutput_CapsStdoutStderrFromTail(t *testing.T) {
	req := &types.RunnerRequest{MaxRows: 10, MaxOutputBytes: 5}
	resp := &types.RunnerResponse{
		Status:      types.RunnerResultSuccess,
		StdoutTrunc: "0123456789",
		StderrTrunc: "abcdefghij",
	}
	out := ShapeOutput(resp, req)
	if out.StdoutTrunc != "01234" {
		t.Errorf("StdoutTrunc = %q", out.StdoutTrunc)
	}
	if out.StderrTrunc != "abcde" {
		t.Errorf("StderrTrunc = %q", out.StderrTrunc)
	}
}
