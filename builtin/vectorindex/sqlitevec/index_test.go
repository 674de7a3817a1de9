package sqlitevec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/memvault/mcp-memvault/pkg/types"
)

func newTestIndex(t *testing.T, dims int) *Index {
	t.Helper()

	dir, err := os.MkdirTemp("", "sqlitevec-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	x := New()
	if err := x.Init(filepath.Join(dir, "vectors.db"), dims); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return x
}

func TestUpsertQueryDelete(t *testing.T) {
	x := newTestIndex(t, 3)
	ctx := context.Background()

	alice := types.VectorMeta{UserID: "alice", AppID: "cli"}
	bob := types.VectorMeta{UserID: "bob", AppID: "cli"}

	if err := x.Upsert(ctx, "m1", []float32{1, 0, 0}, alice); err != nil {
		t.Fatalf("Upsert m1 failed: %v", err)
	}
	if err := x.Upsert(ctx, "m2", []float32{0, 1, 0}, alice); err != nil {
		t.Fatalf("Upsert m2 failed: %v", err)
	}
	if err := x.Upsert(ctx, "m3", []float32{1, 0, 0}, bob); err != nil {
		t.Fatalf("Upsert m3 failed: %v", err)
	}

	hits, err := x.Query(ctx, []float32{1, 0, 0}, 10, types.VectorMeta{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (bob's vector must not appear)", len(hits))
	}
	if hits[0].ID != "m1" {
		t.Errorf("best hit = %s, want m1", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not ordered by descending score")
	}
	if hits[0].Score < 0.99 {
		t.Errorf("identical vector score = %f, want ~1.0", hits[0].Score)
	}

	if err := x.Delete(ctx, "m1", "missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	hits, err = x.Query(ctx, []float32{1, 0, 0}, 10, types.VectorMeta{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query after delete failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m2" {
		t.Errorf("hits after delete = %+v, want only m2", hits)
	}

	n, err := x.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestUpsertReplacesVector(t *testing.T) {
	x := newTestIndex(t, 3)
	ctx := context.Background()
	meta := types.VectorMeta{UserID: "alice", AppID: "cli"}

	if err := x.Upsert(ctx, "m1", []float32{1, 0, 0}, meta); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := x.Upsert(ctx, "m1", []float32{0, 0, 1}, meta); err != nil {
		t.Fatalf("re-Upsert failed: %v", err)
	}

	n, err := x.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count after re-upsert = %d, want 1", n)
	}

	hits, err := x.Query(ctx, []float32{0, 0, 1}, 1, types.VectorMeta{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Score < 0.99 {
		t.Errorf("replaced vector not found: %+v", hits)
	}
}

func TestDimensionMismatch(t *testing.T) {
	x := newTestIndex(t, 3)
	ctx := context.Background()

	if err := x.Upsert(ctx, "m1", []float32{1, 0}, types.VectorMeta{UserID: "a", AppID: "b"}); err == nil {
		t.Error("Upsert with wrong dimensions should fail")
	}
	if _, err := x.Query(ctx, []float32{1, 0, 0, 0}, 1, types.VectorMeta{}); err == nil {
		t.Error("Query with wrong dimensions should fail")
	}
}
