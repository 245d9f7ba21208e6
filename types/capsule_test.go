package types

import "testing"

func TestRunCapsule_Validate(t *testing.T) {
	t.Run("chat capsule cannot carry compiled artifact", func(t *testing.T) {
		c := RunCapsule{
			RunID: "r1", DatasetID: "orders",
			QueryMode: QueryModeChat, Status: CapsuleFailed,
			CompiledSQL: "SELECT 1",
		}
		if err := c.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("succeeded capsule requires result", func(t *testing.T) {
		c := RunCapsule{
			RunID: "r1", DatasetID: "orders",
			QueryMode: QueryModeSQL, Status: CapsuleSucceeded,
		}
		if err := c.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("valid succeeded capsule", func(t *testing.T) {
		c := RunCapsule{
			RunID: "r1", DatasetID: "orders",
			QueryMode: QueryModeSQL, Status: CapsuleSucceeded,
			CompiledSQL: "SELECT COUNT(*) AS n FROM tickets",
			Result:      &ResultPreview{Columns: []string{"n"}, Rows: [][]Cell{{6417}}, RowCount: 1},
		}
		if err := c.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestRunCapsule_RowsWithinBound(t *testing.T) {
	c := RunCapsule{Result: &ResultPreview{Rows: [][]Cell{{1}, {2}, {3}}}}
	if c.RowsWithinBound(2) {
		t.Fatal("expected false")
	}
	if !c.RowsWithinBound(3) {
		t.Fatal("expected true")
	}
}
