package filestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tabularun/tabularun/types"
)

func fixtureCapsule(runID, threadID string, ts time.Time) *types.RunCapsule {
	return &types.RunCapsule{
		RunID:      runID,
		CreatedAt:  ts,
		DatasetID:  "orders",
		ThreadID:   threadID,
		Question:   "how many orders last week",
		QueryMode:  types.QueryModeSQL,
		Status:     types.CapsuleSucceeded,
		Result: &types.ResultPreview{
			Columns:  []string{"n"},
			Rows:     [][]types.Cell{{42}},
			RowCount: 1,
		},
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsules.log")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	c := fixtureCapsule("run-1", "thread-1", time.Unix(1000, 0))
	if err := s.Put(t.Context(), c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected capsule to be found")
	}
	if got.Question != c.Question || got.DatasetID != c.DatasetID {
		t.Errorf("Get() = %+v, want %+v", got, c)
	}
}

func TestPut_RejectsDuplicateRunID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsules.log")
	s, _ := Open(path)
	defer s.Close()

	c := fixtureCapsule("run-1", "thread-1", time.Unix(1000, 0))
	if err := s.Put(t.Context(), c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(t.Context(), c); err == nil {
		t.Fatal("expected error on duplicate run_id")
	}
}

func TestOpen_ReplaysExistingLogIntoIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsules.log")
	s, _ := Open(path)
	_ = s.Put(t.Context(), fixtureCapsule("run-1", "thread-1", time.Unix(1000, 0)))
	_ = s.Put(t.Context(), fixtureCapsule("run-2", "thread-1", time.Unix(2000, 0)))
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	_, ok, err := reopened.Get(t.Context(), "run-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected run-2 to survive reopen via replay")
	}
}

func TestLatestSuccessful_ReturnsMostRecentMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsules.log")
	s, _ := Open(path)
	defer s.Close()

	_ = s.Put(t.Context(), fixtureCapsule("run-1", "thread-1", time.Unix(1000, 0)))
	_ = s.Put(t.Context(), fixtureCapsule("run-2", "thread-1", time.Unix(3000, 0)))
	_ = s.Put(t.Context(), fixtureCapsule("run-3", "thread-1", time.Unix(2000, 0)))

	latest, ok, err := s.LatestSuccessful(t.Context(), "orders", "thread-1")
	if err != nil {
		t.Fatalf("LatestSuccessful: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if latest.RunID != "run-2" {
		t.Errorf("LatestSuccessful() run_id = %q, want run-2", latest.RunID)
	}
}

func TestList_ReturnsChronologicalOrderBoundedByLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsules.log")
	s, _ := Open(path)
	defer s.Close()

	_ = s.Put(t.Context(), fixtureCapsule("run-1", "thread-1", time.Unix(1000, 0)))
	_ = s.Put(t.Context(), fixtureCapsule("run-2", "thread-1", time.Unix(2000, 0)))
	_ = s.Put(t.Context(), fixtureCapsule("run-3", "thread-1", time.Unix(3000, 0)))

	got, err := s.List(t.Context(), "thread-1", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d capsules, want 2", len(got))
	}
	if got[0].RunID != "run-2" || got[1].RunID != "run-3" {
		t.Errorf("List() = %v, want [run-2 run-3]", []string{got[0].RunID, got[1].RunID})
	}
}
