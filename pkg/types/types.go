// Package types contains the shared data structures used across the
// memory store, the vector index providers and the MCP tool surface.
package types

import "time"

// MemoryState is the lifecycle state of a memory. Deleted is terminal:
// there is no undelete, only purge.
type MemoryState string

const (
	StateActive  MemoryState = "active"
	StateDeleted MemoryState = "deleted"
)

// Memory is a single remembered statement owned by a (user, app) pair.
// Text is immutable after creation except through an explicit text
// update, which regenerates the vector in the same commit window.
// The embedding itself is never carried on this struct; vectors live
// in the index keyed by ID.
type Memory struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	AppID     string      `json:"app_id"`
	Text      string      `json:"text"`
	Tags      []string    `json:"tags,omitempty"`
	State     MemoryState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
}

// Deleted reports whether the memory has been soft-deleted.
func (m *Memory) Deleted() bool {
	return m.State == StateDeleted
}

// AuditOp identifies the kind of mutation recorded in the audit trail.
type AuditOp string

const (
	OpAdd        AuditOp = "add"
	OpUpdateTags AuditOp = "update_tags"
	OpUpdateText AuditOp = "update_text"
	OpDelete     AuditOp = "delete"
	OpDeleteAll  AuditOp = "delete_all"
)

// AuditEntry records a single mutation. Entries are append-only and
// never modified after insertion.
type AuditEntry struct {
	ID       string    `json:"id"`
	Op       AuditOp   `json:"op"`
	MemoryID string    `json:"memory_id"`
	UserID   string    `json:"user_id"`
	AppID    string    `json:"app_id"`
	At       time.Time `json:"at"`
}

// AccessOp identifies the kind of read recorded in the access log.
type AccessOp string

const (
	AccessSearch AccessOp = "search"
	AccessList   AccessOp = "list"
)

// AccessLogEntry records that a memory was returned by a read surface.
type AccessLogEntry struct {
	ID       string    `json:"id"`
	Op       AccessOp  `json:"op"`
	MemoryID string    `json:"memory_id"`
	UserID   string    `json:"user_id"`
	AppID    string    `json:"app_id"`
	At       time.Time `json:"at"`
}

// App is a client application registered under a user. A paused app
// (Active=false) is rejected for writes but its memories stay readable.
type App struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult pairs a memory with its similarity score (1.0 = exact).
type SearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// Filter scopes listing, audit and stats queries. An empty AppID means
// any app of the user.
type Filter struct {
	UserID         string
	AppID          string
	IncludeDeleted bool
}

// StoreStats summarizes one tenant's slice of the store.
type StoreStats struct {
	UserID        string `json:"user_id"`
	ActiveCount   int    `json:"active_count"`
	DeletedCount  int    `json:"deleted_count"`
	AuditCount    int    `json:"audit_count"`
	VectorCount   int    `json:"vector_count"`
	IndexProvider string `json:"index_provider,omitempty"`
}

// VectorMeta is the filterable metadata stored next to a vector in the
// index. It mirrors the ownership fields of the memory row so the index
// can pre-filter by tenant; the access policy remains the authority.
type VectorMeta struct {
	UserID string
	AppID  string
}

// VectorHit is a raw index match before metadata resolution.
type VectorHit struct {
	ID    string
	Score float64
}
