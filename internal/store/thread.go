package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

const threadColumns = `id, user_a, user_b, listing_id, flatmate_id, last_message, last_message_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*messenger.Thread, error) {
	var (
		t                 messenger.Thread
		listing, flatmate sql.NullString
		lastAt, created   int64
	)
	if err := row.Scan(&t.ID, &t.UserA, &t.UserB, &listing, &flatmate, &t.LastMessage, &lastAt, &created); err != nil {
		return nil, err
	}
	t.Context = messenger.ThreadContext{ListingID: listing.String, FlatmateID: flatmate.String}
	t.LastMessageAt = fromMicros(lastAt)
	t.CreatedAt = fromMicros(created)
	return &t, nil
}

// FindThread returns the thread stored with exactly (userA, userB), or nil.
func (db *DB) FindThread(ctx context.Context, userA, userB string) (*messenger.Thread, error) {
	t, err := scanThread(db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE user_a = ? AND user_b = ?`, userA, userB))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find thread: %w", err)
	}
	return t, nil
}

// GetThread returns a thread by id, or nil.
func (db *DB) GetThread(ctx context.Context, id string) (*messenger.Thread, error) {
	t, err := scanThread(db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// CreateThread inserts a thread for the pair. The unordered-pair index makes
// a second creation a no-op, reported as messenger.ErrDuplicateThread. A new
// pair without a listing or flatmate context is rejected.
func (db *DB) CreateThread(ctx context.Context, nt messenger.NewThread) (*messenger.Thread, error) {
	if !nt.Context.Valid() {
		return nil, messenger.ErrInvalidContext
	}
	if nt.Context.IsZero() {
		exists, err := db.pairExists(ctx, nt.UserA, nt.UserB)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, messenger.ErrDuplicateThread
		}
		return nil, messenger.ErrContextRequired
	}

	now := db.now()
	t := &messenger.Thread{
		ID:        uuid.NewString(),
		UserA:     nt.UserA,
		UserB:     nt.UserB,
		Context:   nt.Context,
		CreatedAt: fromMicros(micros(now)),
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO threads (id, user_a, user_b, listing_id, flatmate_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		t.ID, t.UserA, t.UserB, nullString(nt.Context.ListingID), nullString(nt.Context.FlatmateID), micros(now))
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	if n == 0 {
		return nil, messenger.ErrDuplicateThread
	}
	return t, nil
}

func (db *DB) pairExists(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM threads
		WHERE (user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)`, a, b, b, a).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe thread: %w", err)
	}
	return n > 0, nil
}

// UpdateThread stores the denormalized last-message preview. Older
// timestamps never overwrite newer ones.
func (db *DB) UpdateThread(ctx context.Context, id, lastMessage string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE threads SET last_message = ?, last_message_at = ?
		WHERE id = ? AND last_message_at <= ?`,
		lastMessage, micros(at), id, micros(at))
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}

// ListThreads returns the threads of userID, most recent first.
func (db *DB) ListThreads(ctx context.Context, userID string) ([]messenger.Thread, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE user_a = ? OR user_b = ?
		ORDER BY last_message_at DESC, created_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []messenger.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}
