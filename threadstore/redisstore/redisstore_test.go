package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/tabularun/tabularun/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendThenRecentRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, content := range []string{"hi", "how many orders?", "here are 5 orders"} {
		role := types.RoleUser
		if i == 2 {
			role = types.RoleAssistant
		}
		msg := &types.ThreadMessage{ThreadID: "t1", DatasetID: "orders", Role: role, Content: content}
		if err := s.Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Content != "hi" || got[2].Content != "here are 5 orders" {
		t.Errorf("unexpected ordering: %+v", got)
	}
}

func TestStore_RecentRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := &types.ThreadMessage{ThreadID: "t1", DatasetID: "orders", Role: types.RoleUser, Content: string(rune('a' + i))}
		if err := s.Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Content != "d" || got[1].Content != "e" {
		t.Fatalf("got %+v, want last two messages", got)
	}
}

func TestStore_RecentUnknownThreadIsEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Recent(context.Background(), "nope", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for an empty URL")
	}
}
