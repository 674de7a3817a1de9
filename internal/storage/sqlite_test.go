package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/memvault/mcp-memvault/pkg/provider"
	"github.com/memvault/mcp-memvault/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s := New()
	if err := s.Init(filepath.Join(dir, "meta.db")); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertMemory(t *testing.T, s *Store, id, userID, appID, text string, at time.Time) {
	t.Helper()

	err := s.WithTx(context.Background(), func(tx provider.MetadataTx) error {
		m := &types.Memory{
			ID: id, UserID: userID, AppID: appID, Text: text,
			State: types.StateActive, CreatedAt: at, UpdatedAt: at,
		}
		if err := tx.InsertMemory(m); err != nil {
			return err
		}
		return tx.AppendAudit(&types.AuditEntry{
			ID: id + "-audit", Op: types.OpAdd, MemoryID: id,
			UserID: userID, AppID: appID, At: at,
		})
	})
	if err != nil {
		t.Fatalf("insert %s failed: %v", id, err)
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	insertMemory(t, s, "m1", "alice", "cli", "prefers dark mode", now)

	m, err := s.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if m.Text != "prefers dark mode" {
		t.Errorf("Text = %q, want %q", m.Text, "prefers dark mode")
	}
	if m.State != types.StateActive {
		t.Errorf("State = %q, want %q", m.State, types.StateActive)
	}
	if !m.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", m.CreatedAt, now)
	}

	if _, err := s.GetMemory(ctx, "missing"); err != types.ErrNotFound {
		t.Errorf("GetMemory(missing) = %v, want ErrNotFound", err)
	}
}

func TestListMemoriesOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	insertMemory(t, s, "m2", "alice", "cli", "second", base.Add(time.Second))
	insertMemory(t, s, "m1", "alice", "cli", "first", base)
	insertMemory(t, s, "m3", "bob", "cli", "other user", base)

	memories, err := s.ListMemories(ctx, types.Filter{UserID: "alice"})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if len(memories) != 2 {
		t.Fatalf("got %d memories, want 2", len(memories))
	}
	if memories[0].ID != "m1" || memories[1].ID != "m2" {
		t.Errorf("order = [%s, %s], want [m1, m2]", memories[0].ID, memories[1].ID)
	}
}

func TestMarkDeletedIsIdempotentAndHidden(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertMemory(t, s, "m1", "alice", "cli", "to delete", time.Now())

	var changed bool
	err := s.WithTx(ctx, func(tx provider.MetadataTx) error {
		var err error
		changed, err = tx.MarkDeleted("m1", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if !changed {
		t.Error("first MarkDeleted should report a change")
	}

	err = s.WithTx(ctx, func(tx provider.MetadataTx) error {
		var err error
		changed, err = tx.MarkDeleted("m1", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("second MarkDeleted failed: %v", err)
	}
	if changed {
		t.Error("second MarkDeleted must be a no-op")
	}

	memories, err := s.ListMemories(ctx, types.Filter{UserID: "alice"})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if len(memories) != 0 {
		t.Errorf("deleted memory still listed: %d rows", len(memories))
	}

	m, err := s.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if !m.Deleted() || m.DeletedAt == nil {
		t.Error("row should be soft-deleted with deleted_at set")
	}
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	errBoom := types.StorageError("boom", nil)
	err := s.WithTx(ctx, func(tx provider.MetadataTx) error {
		m := &types.Memory{
			ID: "m1", UserID: "alice", AppID: "cli", Text: "doomed",
			State: types.StateActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		if err := tx.InsertMemory(m); err != nil {
			return err
		}
		return errBoom
	})
	if err == nil {
		t.Fatal("WithTx should propagate fn error")
	}

	if _, err := s.GetMemory(ctx, "m1"); err != types.ErrNotFound {
		t.Errorf("rolled back row is visible: err = %v", err)
	}
}

func TestPurgeDeletedOnlyRemovesDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertMemory(t, s, "m1", "alice", "cli", "keep", time.Now())
	insertMemory(t, s, "m2", "alice", "cli", "purge", time.Now())

	err := s.WithTx(ctx, func(tx provider.MetadataTx) error {
		_, err := tx.MarkDeleted("m2", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}

	n, err := s.PurgeDeleted(ctx, "alice", "cli")
	if err != nil {
		t.Fatalf("PurgeDeleted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}

	if _, err := s.GetMemory(ctx, "m2"); err != types.ErrNotFound {
		t.Errorf("purged row still present: err = %v", err)
	}
	if _, err := s.GetMemory(ctx, "m1"); err != nil {
		t.Errorf("active row was purged: err = %v", err)
	}
}

func TestAuditAndAccessLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertMemory(t, s, "m1", "alice", "cli", "logged", time.Now())

	entries, err := s.ListAudit(ctx, types.Filter{UserID: "alice"}, 10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Op != types.OpAdd {
		t.Fatalf("audit = %+v, want one add entry", entries)
	}

	err = s.AppendAccessLogs(ctx, []*types.AccessLogEntry{
		{ID: "a1", Op: types.AccessSearch, MemoryID: "m1", UserID: "alice", AppID: "cli", At: time.Now()},
	})
	if err != nil {
		t.Fatalf("AppendAccessLogs failed: %v", err)
	}

	logs, err := s.ListAccessLog(ctx, types.Filter{UserID: "alice"}, 10)
	if err != nil {
		t.Fatalf("ListAccessLog failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Op != types.AccessSearch {
		t.Fatalf("access log = %+v, want one search entry", logs)
	}
}

func TestAppRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app, err := s.GetOrCreateApp(ctx, "alice", "cli")
	if err != nil {
		t.Fatalf("GetOrCreateApp failed: %v", err)
	}
	if !app.Active {
		t.Error("new app should be active")
	}

	again, err := s.GetOrCreateApp(ctx, "alice", "cli")
	if err != nil {
		t.Fatalf("second GetOrCreateApp failed: %v", err)
	}
	if again.ID != app.ID {
		t.Errorf("GetOrCreateApp created a duplicate: %s vs %s", again.ID, app.ID)
	}

	if err := s.SetAppActive(ctx, "alice", "cli", false); err != nil {
		t.Fatalf("SetAppActive failed: %v", err)
	}
	paused, err := s.GetApp(ctx, "alice", "cli")
	if err != nil {
		t.Fatalf("GetApp failed: %v", err)
	}
	if paused.Active {
		t.Error("app should be paused")
	}

	if err := s.SetAppActive(ctx, "alice", "missing", false); err != types.ErrNotFound {
		t.Errorf("SetAppActive on missing app = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertMemory(t, s, "m1", "alice", "cli", "a", time.Now())
	insertMemory(t, s, "m2", "alice", "cli", "b", time.Now())
	err := s.WithTx(ctx, func(tx provider.MetadataTx) error {
		_, err := tx.MarkDeleted("m2", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}

	stats, err := s.Stats(ctx, types.Filter{UserID: "alice"})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ActiveCount != 1 || stats.DeletedCount != 1 || stats.AuditCount != 2 {
		t.Errorf("stats = %+v, want active=1 deleted=1 audit=2", stats)
	}
}
