// Package sqlitevec implements the vector index on sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/memvault/mcp-memvault/pkg/provider"
	"github.com/memvault/mcp-memvault/pkg/types"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once
)

// Index implements the VectorIndex interface using sqlite-vec.
type Index struct {
	db         *sql.DB
	path       string
	dimensions int
}

// New creates a new sqlite-vec index.
func New() *Index {
	return &Index{}
}

var _ provider.VectorIndex = (*Index)(nil)

// Name returns the index name.
func (x *Index) Name() string {
	return "sqlitevec"
}

// Init initializes the index at the given path.
func (x *Index) Init(path string, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}
	x.path = path
	x.dimensions = dimensions

	// Register sqlite-vec extension before opening any database connection.
	// This must be called once before sql.Open() to ensure vec_* functions are available.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	x.db = db

	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		db.Close()
		return fmt.Errorf("sqlite-vec extension not available: %w", err)
	}

	if err := x.createSchema(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (x *Index) createSchema() error {
	// vec0 virtual tables cannot carry arbitrary columns, so tenant
	// metadata lives in a side table joined on memory ID.
	_, err := x.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(
			memory_id TEXT PRIMARY KEY,
			embedding float[%d]
		)`, x.dimensions))
	if err != nil {
		return err
	}

	_, err = x.db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_meta (
			memory_id TEXT PRIMARY KEY,
			user_id   TEXT NOT NULL,
			app_id    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_embedding_meta_user
			ON embedding_meta(user_id, app_id);
	`)
	return err
}

// Close closes the database connection.
func (x *Index) Close() error {
	if x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Upsert inserts or replaces the vector for a memory.
func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta types.VectorMeta) error {
	if len(vector) != x.dimensions {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vector), x.dimensions)
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// vec0 has no ON CONFLICT support; delete-then-insert is the
	// documented replace idiom.
	if _, err := tx.Exec(`DELETE FROM memory_embeddings WHERE memory_id = ?`, id); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO memory_embeddings (memory_id, embedding) VALUES (?, ?)`,
		id, floatsToBytes(vector)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO embedding_meta (memory_id, user_id, app_id) VALUES (?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET user_id = excluded.user_id, app_id = excluded.app_id`,
		id, meta.UserID, meta.AppID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Query returns up to k nearest vectors scoped by the filter.
func (x *Index) Query(ctx context.Context, vector []float32, k int, filter types.VectorMeta) ([]types.VectorHit, error) {
	if len(vector) != x.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d", len(vector), x.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}

	query := `
		SELECT
			me.memory_id,
			vec_distance_cosine(me.embedding, ?) as distance
		FROM memory_embeddings me
		JOIN embedding_meta em ON me.memory_id = em.memory_id
	`
	args := []any{floatsToBytes(vector)}

	var whereClauses []string
	if filter.UserID != "" {
		whereClauses = append(whereClauses, "em.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AppID != "" {
		whereClauses = append(whereClauses, "em.app_id = ?")
		args = append(args, filter.AppID)
	}
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY distance ASC LIMIT ?"
	args = append(args, k)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []types.VectorHit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		// Cosine distance -> similarity score
		hits = append(hits, types.VectorHit{ID: id, Score: 1.0 - distance})
	}
	return hits, rows.Err()
}

// Delete removes vectors by memory ID. Missing IDs are not an error.
func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM memory_embeddings WHERE memory_id = ?`, id); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`DELETE FROM embedding_meta WHERE memory_id = ?`, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stored vectors.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_meta`).Scan(&n)
	return n, err
}

// floatsToBytes converts a float32 slice to the little-endian byte
// layout sqlite-vec expects.
func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(bytes[i*4:], math.Float32bits(f))
	}
	return bytes
}
