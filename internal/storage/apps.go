package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/mcp-memvault/pkg/types"
)

// GetOrCreateApp finds an app by (user, name), creating an active one
// when missing. The INSERT races benignly with concurrent callers: the
// unique constraint makes the loser re-read the winner's row.
func (s *Store) GetOrCreateApp(ctx context.Context, userID, name string) (*types.App, error) {
	app, err := s.GetApp(ctx, userID, name)
	if err == nil {
		return app, nil
	}
	if err != types.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO apps (id, user_id, name, active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_id, name) DO NOTHING`,
		uuid.NewString(), userID, name, now.UnixNano())
	if err != nil {
		return nil, err
	}
	return s.GetApp(ctx, userID, name)
}

// GetApp returns an app by (user, name).
func (s *Store) GetApp(ctx context.Context, userID, name string) (*types.App, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, active, created_at
		FROM apps WHERE user_id = ? AND name = ?`, userID, name)

	app, err := scanApp(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	return app, err
}

// SetAppActive pauses or resumes an app.
func (s *Store) SetAppActive(ctx context.Context, userID, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE apps SET active = ? WHERE user_id = ? AND name = ?`,
		boolToInt(active), userID, name)
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

// ListApps returns all apps of a user, oldest first.
func (s *Store) ListApps(ctx context.Context, userID string) ([]*types.App, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, active, created_at
		FROM apps WHERE user_id = ?
		ORDER BY created_at ASC, name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*types.App
	for rows.Next() {
		var app types.App
		var active int
		var createdAt int64
		if err := rows.Scan(&app.ID, &app.UserID, &app.Name, &active, &createdAt); err != nil {
			return nil, err
		}
		app.Active = active != 0
		app.CreatedAt = time.Unix(0, createdAt)
		apps = append(apps, &app)
	}
	return apps, rows.Err()
}

func scanApp(row *sql.Row) (*types.App, error) {
	var app types.App
	var active int
	var createdAt int64
	if err := row.Scan(&app.ID, &app.UserID, &app.Name, &active, &createdAt); err != nil {
		return nil, err
	}
	app.Active = active != 0
	app.CreatedAt = time.Unix(0, createdAt)
	return &app, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
