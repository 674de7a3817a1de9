package chromem

import (
	"context"
	"testing"

	"github.com/memvault/mcp-memvault/pkg/types"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	x := New()
	// Empty path keeps the index in memory.
	if err := x.Init("", 3); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return x
}

func TestQueryScopedToUser(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	if err := x.Upsert(ctx, "m1", []float32{1, 0, 0}, types.VectorMeta{UserID: "alice", AppID: "cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := x.Upsert(ctx, "m2", []float32{1, 0, 0}, types.VectorMeta{UserID: "bob", AppID: "cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := x.Query(ctx, []float32{1, 0, 0}, 10, types.VectorMeta{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("hits = %+v, want only alice's m1", hits)
	}

	// No user filter means no results, never a cross-user scan.
	hits, err = x.Query(ctx, []float32{1, 0, 0}, 10, types.VectorMeta{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("unscoped query returned %d hits, want 0", len(hits))
	}
}

func TestQueryAppFilter(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	if err := x.Upsert(ctx, "m1", []float32{1, 0, 0}, types.VectorMeta{UserID: "alice", AppID: "cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := x.Upsert(ctx, "m2", []float32{0.9, 0.1, 0}, types.VectorMeta{UserID: "alice", AppID: "ide"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := x.Query(ctx, []float32{1, 0, 0}, 10, types.VectorMeta{UserID: "alice", AppID: "ide"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m2" {
		t.Fatalf("hits = %+v, want only ide's m2", hits)
	}
}

func TestDeleteAndCount(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2"} {
		v := []float32{float32(i + 1), 0, 0}
		if err := x.Upsert(ctx, id, v, types.VectorMeta{UserID: "alice", AppID: "cli"}); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}

	if n, _ := x.Count(ctx); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	if err := x.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n, _ := x.Count(ctx); n != 1 {
		t.Errorf("Count after delete = %d, want 1", n)
	}

	// Deleting an unknown ID is a no-op.
	if err := x.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestQueryLimitClampedToCollectionSize(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	if err := x.Upsert(ctx, "m1", []float32{1, 0, 0}, types.VectorMeta{UserID: "alice", AppID: "cli"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := x.Query(ctx, []float32{1, 0, 0}, 50, types.VectorMeta{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query with oversized k failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}
