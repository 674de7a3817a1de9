package provider

import (
	"context"
	"time"

	"github.com/memvault/mcp-memvault/pkg/types"
)

// MetadataStore is the canonical persistence layer for memory rows, the
// audit trail, the access log and registered apps. Vector storage is
// deliberately elsewhere (VectorIndex); the metadata store decides what
// exists, the index only decides what is similar.
type MetadataStore interface {
	// Name returns the store name (e.g., "sqlite").
	Name() string

	// Init opens or creates the store at the given path.
	Init(path string) error

	// Close releases resources and closes connections.
	Close() error

	// WithTx runs fn inside a single transaction. If fn returns an
	// error the transaction is rolled back; otherwise it is committed
	// and any commit failure is returned. Callers compose the writes
	// that must become visible together inside fn.
	WithTx(ctx context.Context, fn func(tx MetadataTx) error) error

	// GetMemory returns a memory by ID regardless of state, or
	// types.ErrNotFound.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// GetMemories returns the memories for the given IDs, skipping
	// missing ones, in no particular order.
	GetMemories(ctx context.Context, ids []string) ([]*types.Memory, error)

	// ListMemories returns memories matching the filter ordered by
	// creation time ascending, ID ascending on ties.
	ListMemories(ctx context.Context, f types.Filter) ([]*types.Memory, error)

	// ListActiveIDs returns the IDs of active memories owned by the
	// exact (user, app) pair.
	ListActiveIDs(ctx context.Context, userID, appID string) ([]string, error)

	// AppendAccessLogs records read accesses. Outside any caller
	// transaction: a failed access log must not undo a successful read.
	AppendAccessLogs(ctx context.Context, entries []*types.AccessLogEntry) error

	// ListAudit returns audit entries matching the filter, newest first.
	ListAudit(ctx context.Context, f types.Filter, limit int) ([]*types.AuditEntry, error)

	// ListAccessLog returns access log entries, newest first.
	ListAccessLog(ctx context.Context, f types.Filter, limit int) ([]*types.AccessLogEntry, error)

	// GetOrCreateApp finds an app by (user, name), creating an active
	// one when missing.
	GetOrCreateApp(ctx context.Context, userID, name string) (*types.App, error)

	// GetApp returns an app by (user, name), or types.ErrNotFound.
	GetApp(ctx context.Context, userID, name string) (*types.App, error)

	// SetAppActive pauses or resumes an app.
	SetAppActive(ctx context.Context, userID, name string, active bool) error

	// ListApps returns all apps of a user.
	ListApps(ctx context.Context, userID string) ([]*types.App, error)

	// PurgeDeleted physically removes soft-deleted memories for the
	// (user, app) pair and returns how many rows were removed.
	PurgeDeleted(ctx context.Context, userID, appID string) (int, error)

	// Stats returns counters for the filtered slice of the store.
	Stats(ctx context.Context, f types.Filter) (*types.StoreStats, error)
}

// MetadataTx exposes the writes that must commit together.
type MetadataTx interface {
	// InsertMemory inserts a new memory row.
	InsertMemory(m *types.Memory) error

	// UpdateMemory rewrites the mutable columns (text, tags,
	// updated_at) of an existing active memory.
	UpdateMemory(m *types.Memory) error

	// MarkDeleted transitions an active memory to deleted. Returns
	// false when the memory was already deleted or does not exist.
	MarkDeleted(id string, at time.Time) (bool, error)

	// AppendAudit inserts an audit entry. There is deliberately no
	// update or delete counterpart anywhere in the store.
	AppendAudit(e *types.AuditEntry) error
}

// MetadataStoreConfig contains configuration for metadata stores.
type MetadataStoreConfig struct {
	Provider string // "sqlite"
	Path     string // Path to database file
}
