package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabularun/tabularun/policy"
	"github.com/tabularun/tabularun/registry"
	"github.com/tabularun/tabularun/types"
)

type fakeExecutor struct {
	lastReq *types.RunnerRequest
	resp    *types.RunnerResponse
	err     error
}

func (f *fakeExecutor) Submit(_ context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return "", nil, f.err
	}
	resp := f.resp
	if resp == nil {
		resp = &types.RunnerResponse{Status: types.RunnerResultSuccess, Columns: []string{"n"}, Rows: [][]types.Cell{{float64(1)}}, RowCount: 1}
	}
	return "run-1", resp, nil
}
func (f *fakeExecutor) Status(_ context.Context, _ string) (types.RunnerStatus, error) {
	return types.RunnerStatusSucceeded, nil
}
func (f *fakeExecutor) Result(_ context.Context, _ string) (*types.RunnerResponse, error) {
	return f.resp, nil
}
func (f *fakeExecutor) Cancel(_ context.Context, _ string) error  { return nil }
func (f *fakeExecutor) Cleanup(_ context.Context, _ string) error { return nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "orders.csv"), []byte("id,amount\n1,10\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	manifest := `[{
		"id": "orders",
		"name": "Orders",
		"files": [{"name": "orders", "path": "orders.csv", "schema": [{"column": "id", "type": "int"}, {"column": "amount", "type": "float"}]}],
		"example_prompts": ["total revenue"]
	}]`
	manifestPath := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	r, err := registry.Load(manifestPath, dir)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return r
}

func testContext(t *testing.T, exec *fakeExecutor) *Context {
	t.Helper()
	return &Context{
		Registry:       testRegistry(t),
		Gate:           policy.NewGate(policy.DefaultCompilerLimits()),
		Executor:       exec,
		TimeoutSeconds: 30,
		MaxRows:        1000,
		MaxOutputBytes: 1 << 20,
	}
}

func TestRegistry_SchemasOmitsPythonWhenDisabled(t *testing.T) {
	r, err := NewRegistry(false)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for _, s := range r.Schemas() {
		if s.Name == "execute_python" {
			t.Fatal("expected execute_python to be excluded when disabled")
		}
	}

	r2, err := NewRegistry(true)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	found := false
	for _, s := range r2.Schemas() {
		if s.Name == "execute_python" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected execute_python to be present when enabled")
	}
}

func TestDispatch_ListDatasets(t *testing.T) {
	r, _ := NewRegistry(true)
	tc := testContext(t, &fakeExecutor{})

	out, err := r.Dispatch(context.Background(), tc, "list_datasets", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	var got []datasetSummary
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].ID != "orders" {
		t.Errorf("got %+v", got)
	}
}

func TestDispatch_GetDatasetSchema_UnknownDataset(t *testing.T) {
	r, _ := NewRegistry(true)
	tc := testContext(t, &fakeExecutor{})

	_, err := r.Dispatch(context.Background(), tc, "get_dataset_schema", json.RawMessage(`{"dataset_id":"nope"}`))
	if err == nil {
		t.Fatal("expected error for unknown dataset")
	}
}

func TestDispatch_ExecuteSQL_RejectsWriteStatement(t *testing.T) {
	r, _ := NewRegistry(true)
	tc := testContext(t, &fakeExecutor{})

	input, _ := json.Marshal(executeSQLInput{DatasetID: "orders", SQL: "DELETE FROM orders"})
	_, err := r.Dispatch(context.Background(), tc, "execute_sql", input)
	if err == nil {
		t.Fatal("expected SQL policy rejection")
	}
}

func TestDispatch_ExecuteSQL_RunsThroughExecutor(t *testing.T) {
	r, _ := NewRegistry(true)
	exec := &fakeExecutor{}
	tc := testContext(t, exec)

	input, _ := json.Marshal(executeSQLInput{DatasetID: "orders", SQL: "SELECT * FROM orders"})
	out, err := r.Dispatch(context.Background(), tc, "execute_sql", input)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exec.lastReq == nil || exec.lastReq.QueryType != types.QueryTypeSQL {
		t.Fatalf("expected executor to receive a SQL request, got %+v", exec.lastReq)
	}
	var resp types.RunnerResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != types.RunnerResultSuccess {
		t.Errorf("Status = %q, want success", resp.Status)
	}
}

func TestDispatch_ExecuteQueryPlan_RendersLiteralSQL(t *testing.T) {
	r, _ := NewRegistry(true)
	exec := &fakeExecutor{}
	tc := testContext(t, exec)

	plan := types.QueryPlan{
		Table: "orders",
		Select: []types.SelectItem{
			{Fn: types.AggSum, AggColumn: "amount", Alias: "total"},
		},
		Filters: []types.PlanFilter{
			{Column: "id", Op: types.OpGt, Value: float64(0)},
		},
	}
	planJSON, _ := json.Marshal(plan)
	input, _ := json.Marshal(executeQueryPlanInput{DatasetID: "orders", Plan: planJSON})

	_, err := r.Dispatch(context.Background(), tc, "execute_query_plan", input)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exec.lastReq == nil {
		t.Fatal("expected a submitted runner request")
	}
	if got := exec.lastReq.SQL; got == "" || containsPlaceholder(got) {
		t.Errorf("SQL = %q, want a fully-rendered literal statement with no placeholders", got)
	}
}

func containsPlaceholder(sql string) bool {
	for _, r := range sql {
		if r == '?' {
			return true
		}
	}
	return false
}

func TestDispatch_ExecutePython_DisabledReturnsFeatureDisabled(t *testing.T) {
	r, _ := NewRegistry(false)
	tc := testContext(t, &fakeExecutor{})

	_, err := r.Dispatch(context.Background(), tc, "execute_python", json.RawMessage(`{"dataset_id":"orders","python_code":"result = 1"}`))
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRenderLiteralSQL(t *testing.T) {
	sql, err := renderLiteralSQL(`"id" = ? AND "name" = ?`, []any{float64(5), "o'brien"})
	if err != nil {
		t.Fatalf("renderLiteralSQL: %v", err)
	}
	want := `"id" = 5 AND "name" = 'o''brien'`
	if sql != want {
		t.Errorf("got %q, want %q", sql, want)
	}
}

func TestRenderLiteralSQL_MismatchedArgCount(t *testing.T) {
	if _, err := renderLiteralSQL(`"id" = ?`, nil); err == nil {
		t.Fatal("expected a placeholder/arg count mismatch error")
	}
}
