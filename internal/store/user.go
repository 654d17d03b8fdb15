package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertUser inserts or updates a user. Empty label and token fields keep
// their stored values.
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, display_id, display_label, token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_id = CASE WHEN excluded.display_id != '' THEN excluded.display_id ELSE users.display_id END,
			display_label = CASE WHEN excluded.display_label != '' THEN excluded.display_label ELSE users.display_label END,
			token_hash = CASE WHEN excluded.token_hash != '' THEN excluded.token_hash ELSE users.token_hash END`,
		u.ID, u.DisplayID, u.DisplayLabel, u.TokenHash, micros(db.now()))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser returns a user by id, or nil when missing.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		u       User
		created int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, display_id, display_label, token_hash, created_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayID, &u.DisplayLabel, &u.TokenHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMicros(created)
	return &u, nil
}

// DisplayLabel returns the label shown for a user, falling back from the
// label to the display id to the id. Unknown users have an empty label.
func (db *DB) DisplayLabel(ctx context.Context, id string) (string, error) {
	var label string
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(NULLIF(display_label, ''), NULLIF(display_id, ''), id)
		FROM users WHERE id = ?`, id).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("display label: %w", err)
	}
	return label, nil
}
