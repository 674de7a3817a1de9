package provider

import (
	"context"

	"github.com/memvault/mcp-memvault/pkg/types"
)

// VectorIndex stores and searches embedding vectors keyed by memory ID.
// The index is an acceleration structure, not the source of truth: every
// hit is resolved against the metadata store and re-checked by the access
// policy before it can reach a caller.
type VectorIndex interface {
	// Name returns the index provider name (e.g., "sqlitevec", "chromem").
	Name() string

	// Init opens or creates the index at the given path for vectors of
	// the given dimensionality.
	Init(path string, dimensions int) error

	// Upsert inserts or replaces the vector for a memory.
	Upsert(ctx context.Context, id string, vector []float32, meta types.VectorMeta) error

	// Query returns up to k nearest vectors scoped by the filter,
	// ordered by descending similarity. Score is 1.0 - cosine distance.
	Query(ctx context.Context, vector []float32, k int, filter types.VectorMeta) ([]types.VectorHit, error)

	// Delete removes vectors by memory ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Close releases resources and closes connections.
	Close() error
}

// VectorIndexConfig contains configuration for vector indexes.
type VectorIndexConfig struct {
	Provider string // "sqlitevec", "chromem"
	Path     string // Path to the index file or directory
}
