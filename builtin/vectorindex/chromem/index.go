// Package chromem implements the vector index on chromem-go, a pure-Go
// embedded vector database. It needs no cgo, which makes it the default
// backend for environments where sqlite-vec is unavailable and the
// backend used by hermetic tests.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/memvault/mcp-memvault/pkg/provider"
	"github.com/memvault/mcp-memvault/pkg/types"
)

// Index implements the VectorIndex interface using chromem-go with one
// collection per user, mirroring the tenant boundary in storage layout.
type Index struct {
	mu         sync.Mutex
	db         *chromemgo.DB
	dimensions int
}

// New creates a new chromem index.
func New() *Index {
	return &Index{}
}

var _ provider.VectorIndex = (*Index)(nil)

// Name returns the index name.
func (x *Index) Name() string {
	return "chromem"
}

// Init opens or creates the persistent database under path. An empty
// path keeps the index purely in memory.
func (x *Index) Init(path string, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}
	x.dimensions = dimensions

	if path == "" {
		x.db = chromemgo.NewDB()
		return nil
	}
	db, err := chromemgo.NewPersistentDB(path, false)
	if err != nil {
		return fmt.Errorf("failed to open chromem database: %w", err)
	}
	x.db = db
	return nil
}

// Close releases resources. chromem persists on every write, so there
// is nothing to flush.
func (x *Index) Close() error {
	x.db = nil
	return nil
}

// Embeddings always arrive precomputed; chromem must never embed.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding must be provided by the caller")
}

func (x *Index) collection(userID string) (*chromemgo.Collection, error) {
	return x.db.GetOrCreateCollection("user-"+userID, nil, noEmbed)
}

// Upsert inserts or replaces the vector for a memory.
func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta types.VectorMeta) error {
	if len(vector) != x.dimensions {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vector), x.dimensions)
	}
	if meta.UserID == "" {
		return errors.New("vector metadata requires a user_id")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.collection(meta.UserID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromemgo.Document{
		ID:        id,
		Embedding: vector,
		// Text is never read back from the index; the ID stands in
		// for document content.
		Content: id,
		Metadata: map[string]string{
			"user_id": meta.UserID,
			"app_id":  meta.AppID,
		},
	})
}

// Query returns up to k nearest vectors scoped by the filter. A query
// without a user filter returns nothing: collections are per-user and
// cross-user scans are deliberately unsupported.
func (x *Index) Query(ctx context.Context, vector []float32, k int, filter types.VectorMeta) ([]types.VectorHit, error) {
	if len(vector) != x.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d", len(vector), x.dimensions)
	}
	if k <= 0 || filter.UserID == "" {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col := x.db.GetCollection("user-"+filter.UserID, noEmbed)
	if col == nil {
		return nil, nil
	}

	// chromem rejects nResults greater than the collection size.
	if n := col.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	var where map[string]string
	if filter.AppID != "" {
		where = map[string]string{"app_id": filter.AppID}
	}

	results, err := col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]types.VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, types.VectorHit{ID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Delete removes vectors by memory ID. Missing IDs are not an error.
func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, col := range x.db.ListCollections() {
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of stored vectors across all users.
func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	total := 0
	for _, col := range x.db.ListCollections() {
		total += col.Count()
	}
	return total, nil
}
