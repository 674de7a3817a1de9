// Package storage implements the canonical metadata store on SQLite.
// It owns the memory rows, the append-only audit trail, the access log
// and the app registry. Vectors live in the index, never here.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/memvault/mcp-memvault/pkg/provider"
	"github.com/memvault/mcp-memvault/pkg/types"
)

// Store is the SQLite-backed metadata store.
type Store struct {
	db   *sql.DB
	path string
}

// New creates an uninitialized store. Call Init before use.
func New() *Store {
	return &Store{}
}

var _ provider.MetadataStore = (*Store)(nil)

// Name returns the store name.
func (s *Store) Name() string {
	return "sqlite"
}

// Init opens or creates the database at path and ensures the schema.
func (s *Store) Init(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.createSchema(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		app_id      TEXT NOT NULL,
		text        TEXT NOT NULL,
		tags        TEXT,
		state       TEXT NOT NULL DEFAULT 'active',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		deleted_at  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_memories_tenant
		ON memories(user_id, state, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_app
		ON memories(user_id, app_id, state);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          TEXT PRIMARY KEY,
		op          TEXT NOT NULL,
		memory_id   TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		app_id      TEXT NOT NULL,
		at          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user
		ON audit_log(user_id, at);

	CREATE TABLE IF NOT EXISTS access_log (
		id          TEXT PRIMARY KEY,
		op          TEXT NOT NULL,
		memory_id   TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		app_id      TEXT NOT NULL,
		at          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_access_user
		ON access_log(user_id, at);

	CREATE TABLE IF NOT EXISTS apps (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  INTEGER NOT NULL,
		UNIQUE(user_id, name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx provider.MetadataTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

var _ provider.MetadataTx = (*sqliteTx)(nil)

func (t *sqliteTx) InsertMemory(m *types.Memory) error {
	tags, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO memories (id, user_id, app_id, text, tags, state, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.AppID, m.Text, tags, string(m.State),
		m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(), nullNano(m.DeletedAt),
	)
	return err
}

func (t *sqliteTx) UpdateMemory(m *types.Memory) error {
	tags, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}
	res, err := t.tx.Exec(`
		UPDATE memories SET text = ?, tags = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		m.Text, tags, m.UpdatedAt.UnixNano(), m.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) MarkDeleted(id string, at time.Time) (bool, error) {
	res, err := t.tx.Exec(`
		UPDATE memories SET state = 'deleted', deleted_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		at.UnixNano(), at.UnixNano(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqliteTx) AppendAudit(e *types.AuditEntry) error {
	_, err := t.tx.Exec(`
		INSERT INTO audit_log (id, op, memory_id, user_id, app_id, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Op), e.MemoryID, e.UserID, e.AppID, e.At.UnixNano(),
	)
	return err
}

// GetMemory returns a memory regardless of state.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, app_id, text, tags, state, created_at, updated_at, deleted_at
		FROM memories WHERE id = ?`, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	return m, err
}

// GetMemories returns memories for the given IDs, skipping missing ones.
func (s *Store) GetMemories(ctx context.Context, ids []string) ([]*types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, app_id, text, tags, state, created_at, updated_at, deleted_at
		FROM memories WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ListMemories returns memories matching the filter, oldest first.
func (s *Store) ListMemories(ctx context.Context, f types.Filter) ([]*types.Memory, error) {
	query := `
		SELECT id, user_id, app_id, text, tags, state, created_at, updated_at, deleted_at
		FROM memories WHERE 1=1`
	var args []any

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.AppID != "" {
		query += " AND app_id = ?"
		args = append(args, f.AppID)
	}
	if !f.IncludeDeleted {
		query += " AND state = 'active'"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ListActiveIDs returns IDs of active memories for the exact tenant pair.
func (s *Store) ListActiveIDs(ctx context.Context, userID, appID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE user_id = ? AND app_id = ? AND state = 'active'
		ORDER BY created_at ASC, id ASC`, userID, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendAccessLogs records read accesses in a single transaction of its own.
func (s *Store) AppendAccessLogs(ctx context.Context, entries []*types.AccessLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO access_log (id, op, memory_id, user_id, app_id, at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.ID, string(e.Op), e.MemoryID, e.UserID, e.AppID, e.At.UnixNano()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListAudit returns audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, f types.Filter, limit int) ([]*types.AuditEntry, error) {
	query := `SELECT id, op, memory_id, user_id, app_id, at FROM audit_log WHERE 1=1`
	var args []any

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.AppID != "" {
		query += " AND app_id = ?"
		args = append(args, f.AppID)
	}
	query += " ORDER BY at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var op string
		var at int64
		if err := rows.Scan(&e.ID, &op, &e.MemoryID, &e.UserID, &e.AppID, &at); err != nil {
			return nil, err
		}
		e.Op = types.AuditOp(op)
		e.At = time.Unix(0, at)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListAccessLog returns access log entries, newest first.
func (s *Store) ListAccessLog(ctx context.Context, f types.Filter, limit int) ([]*types.AccessLogEntry, error) {
	query := `SELECT id, op, memory_id, user_id, app_id, at FROM access_log WHERE 1=1`
	var args []any

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.AppID != "" {
		query += " AND app_id = ?"
		args = append(args, f.AppID)
	}
	query += " ORDER BY at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.AccessLogEntry
	for rows.Next() {
		var e types.AccessLogEntry
		var op string
		var at int64
		if err := rows.Scan(&e.ID, &op, &e.MemoryID, &e.UserID, &e.AppID, &at); err != nil {
			return nil, err
		}
		e.Op = types.AccessOp(op)
		e.At = time.Unix(0, at)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PurgeDeleted physically removes soft-deleted rows for the tenant pair.
func (s *Store) PurgeDeleted(ctx context.Context, userID, appID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memories
		WHERE user_id = ? AND app_id = ? AND state = 'deleted'`, userID, appID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats returns counters for the filtered slice of the store.
func (s *Store) Stats(ctx context.Context, f types.Filter) (*types.StoreStats, error) {
	stats := &types.StoreStats{UserID: f.UserID}

	countWhere := func(table, extra string) (int, error) {
		query := "SELECT COUNT(*) FROM " + table + " WHERE 1=1"
		var args []any
		if f.UserID != "" {
			query += " AND user_id = ?"
			args = append(args, f.UserID)
		}
		if f.AppID != "" {
			query += " AND app_id = ?"
			args = append(args, f.AppID)
		}
		query += extra
		var n int
		err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
		return n, err
	}

	var err error
	if stats.ActiveCount, err = countWhere("memories", " AND state = 'active'"); err != nil {
		return nil, err
	}
	if stats.DeletedCount, err = countWhere("memories", " AND state = 'deleted'"); err != nil {
		return nil, err
	}
	if stats.AuditCount, err = countWhere("audit_log", ""); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanMemory(row *sql.Row) (*types.Memory, error) {
	var m types.Memory
	var tags sql.NullString
	var state string
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.UserID, &m.AppID, &m.Text, &tags, &state,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	finishMemory(&m, tags, state, createdAt, updatedAt, deletedAt)
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var memories []*types.Memory
	for rows.Next() {
		var m types.Memory
		var tags sql.NullString
		var state string
		var createdAt, updatedAt int64
		var deletedAt sql.NullInt64

		if err := rows.Scan(&m.ID, &m.UserID, &m.AppID, &m.Text, &tags, &state,
			&createdAt, &updatedAt, &deletedAt); err != nil {
			return nil, err
		}
		finishMemory(&m, tags, state, createdAt, updatedAt, deletedAt)
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

func finishMemory(m *types.Memory, tags sql.NullString, state string, createdAt, updatedAt int64, deletedAt sql.NullInt64) {
	if tags.Valid && tags.String != "" {
		json.Unmarshal([]byte(tags.String), &m.Tags)
	}
	m.State = types.MemoryState(state)
	m.CreatedAt = time.Unix(0, createdAt)
	m.UpdatedAt = time.Unix(0, updatedAt)
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64)
		m.DeletedAt = &t
	}
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
