package surface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabularun/tabularun/agent"
	"github.com/tabularun/tabularun/agent/tools"
	"github.com/tabularun/tabularun/capsule/filestore"
	"github.com/tabularun/tabularun/llm"
	"github.com/tabularun/tabularun/policy"
	"github.com/tabularun/tabularun/registry"
	"github.com/tabularun/tabularun/telemetry"
	"github.com/tabularun/tabularun/telemetry/webhook"
	"github.com/tabularun/tabularun/threadstore"
	"github.com/tabularun/tabularun/threadstore/memory"
	"github.com/tabularun/tabularun/types"
)

type fakeExecutor struct{}

func (f *fakeExecutor) Submit(_ context.Context, _ *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	return "run-1", &types.RunnerResponse{
		Status:   types.RunnerResultSuccess,
		Columns:  []string{"n"},
		Rows:     [][]types.Cell{{float64(1)}},
		RowCount: 1,
	}, nil
}
func (f *fakeExecutor) Status(_ context.Context, _ string) (types.RunnerStatus, error) {
	return types.RunnerStatusSucceeded, nil
}
func (f *fakeExecutor) Result(_ context.Context, _ string) (*types.RunnerResponse, error) {
	return nil, nil
}
func (f *fakeExecutor) Cancel(_ context.Context, _ string) error  { return nil }
func (f *fakeExecutor) Cleanup(_ context.Context, _ string) error { return nil }

type fakeProvider struct{}

func (f *fakeProvider) Complete(_ context.Context, _ string, _ []llm.Message, _ []llm.ToolSchema) (*llm.Response, error) {
	return &llm.Response{Text: "done", StopReason: llm.StopText}, nil
}

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

func newTestSurface(t *testing.T, threads threadstore.Store, wh *webhook.Sink) *Surface {
	t.Helper()
	toolRegistry, err := tools.NewRegistry(true)
	if err != nil {
		t.Fatalf("tools.NewRegistry: %v", err)
	}
	store, err := filestore.Open(filepath.Join(t.TempDir(), "capsules.log"))
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if threads == nil {
		threads = memory.New()
	}

	a := &agent.Agent{
		Provider:            &fakeProvider{},
		Tools:               toolRegistry,
		Executor:            &fakeExecutor{},
		Registry:            testRegistry(t),
		Gate:                policy.NewGate(policy.DefaultCompilerLimits()),
		Capsules:            store,
		Threads:             threads,
		ThreadHistoryWindow: 20,
		MaxToolCalls:        6,
		TimeoutSeconds:      30,
		MaxRows:             1000,
		MaxOutputBytes:      1 << 20,
	}

	return &Surface{
		Agent:   a,
		Metrics: telemetry.NewCollector("fake", "fake", "file"),
		Webhook: wh,
	}
}

func TestRun_GeneratesThreadIDWhenAbsent(t *testing.T) {
	s := newTestSurface(t, nil, nil)
	resp, err := s.Run(context.Background(), "orders", "SQL: SELECT * FROM orders", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.ThreadID == "" {
		t.Fatal("expected a generated thread_id")
	}
}

func TestRun_AppendsUserAndAssistantMessages(t *testing.T) {
	threads := memory.New()
	s := newTestSurface(t, threads, nil)

	resp, err := s.Run(context.Background(), "orders", "SQL: SELECT * FROM orders", "thread-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := threads.Recent(context.Background(), "thread-1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2 (user + assistant)", len(got))
	}
	if got[0].Role != types.RoleUser || got[0].Content != "SQL: SELECT * FROM orders" {
		t.Errorf("unexpected first message: %+v", got[0])
	}
	if got[1].Role != types.RoleAssistant || got[1].RunID != resp.RunID {
		t.Errorf("unexpected second message: %+v", got[1])
	}
}

func TestRun_UnknownDatasetSkipsAssistantAppend(t *testing.T) {
	threads := memory.New()
	s := newTestSurface(t, threads, nil)

	resp, err := s.Run(context.Background(), "nope", "hi", "thread-2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Status != agent.StatusNotFound {
		t.Fatalf("status = %v, want not_found", resp.Status)
	}

	got, err := threads.Recent(context.Background(), "thread-2", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1 (user only, no assistant turn for a rejected-before-accepted request)", len(got))
	}
}

func TestRun_NotifiesWebhookOnCompletion(t *testing.T) {
	received := make(chan webhook.CapsuleCompletedEvent, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event webhook.CapsuleCompletedEvent
		_ = json.NewDecoder(r.Body).Decode(&event)
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink, err := webhook.New(webhook.Config{URL: ts.URL, Retries: 0})
	if err != nil {
		t.Fatalf("webhook.New: %v", err)
	}
	defer sink.Close()

	s := newTestSurface(t, nil, sink)
	resp, err := s.Run(context.Background(), "orders", "SQL: SELECT * FROM orders", "thread-3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case event := <-received:
		if event.RunID != resp.RunID {
			t.Errorf("event run_id = %q, want %q", event.RunID, resp.RunID)
		}
		if event.Status != "succeeded" {
			t.Errorf("event status = %q, want succeeded", event.Status)
		}
	default:
		t.Fatal("webhook sink was not notified")
	}
}

func TestStream_ForwardsEventsAndAppendsThread(t *testing.T) {
	threads := memory.New()
	s := newTestSurface(t, threads, nil)

	ch, err := s.Stream(context.Background(), "orders", "SQL: SELECT * FROM orders", "thread-4")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var sawResult, sawDone bool
	for ev := range ch {
		if ev.Type == agent.EventResult {
			sawResult = true
		}
		if ev.Type == agent.EventDone {
			sawDone = true
		}
	}
	if !sawResult || !sawDone {
		t.Fatalf("expected result+done events, sawResult=%v sawDone=%v", sawResult, sawDone)
	}

	got, err := threads.Recent(context.Background(), "thread-4", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
}

func TestExitCode_MapsEveryStatus(t *testing.T) {
	cases := map[agent.Status]int{
		agent.StatusSucceeded: ExitSuccess,
		agent.StatusFailed:    ExitFailed,
		agent.StatusRejected:  ExitRejected,
		agent.StatusTimedOut:  ExitTimedOut,
		agent.StatusNotFound:  ExitNotFound,
	}
	for status, want := range cases {
		if got := ExitCode(status); got != want {
			t.Errorf("ExitCode(%v) = %d, want %d", status, got, want)
		}
	}
}
