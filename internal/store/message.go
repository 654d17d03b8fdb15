package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

var (
	_ messenger.Store    = (*DB)(nil)
	_ messenger.Profiles = (*DB)(nil)
)

const messageColumns = `id, thread_id, sender_id, recipient_id, body, nonce, is_read, created_at`

func scanMessage(row rowScanner) (*messenger.Message, error) {
	var (
		m       messenger.Message
		nonce   sql.NullString
		created int64
	)
	if err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.RecipientID, &m.Text, &nonce, &m.IsRead, &created); err != nil {
		return nil, err
	}
	m.Nonce = nonce.String
	m.CreatedAt = fromMicros(created)
	return &m, nil
}

// InsertMessage appends a message to a thread both users belong to and
// publishes it on the bus. A retried insert with the same (sender, nonce)
// returns the stored row without publishing it again; a different message
// under a used nonce fails with ErrNonceConflict.
func (db *DB) InsertMessage(ctx context.Context, nm messenger.NewMessage) (*messenger.Message, error) {
	t, err := db.GetThread(ctx, nm.ThreadID)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.Has(nm.SenderID) || t.Peer(nm.SenderID) != nm.RecipientID {
		return nil, messenger.ErrThreadNotFound
	}

	m := &messenger.Message{
		ID:          uuid.NewString(),
		ThreadID:    nm.ThreadID,
		SenderID:    nm.SenderID,
		RecipientID: nm.RecipientID,
		Text:        nm.Text,
		Nonce:       nm.Nonce,
		CreatedAt:   fromMicros(micros(db.now())),
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, recipient_id, body, nonce, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT DO NOTHING`,
		m.ID, m.ThreadID, m.SenderID, m.RecipientID, m.Text, nullString(m.Nonce), micros(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		existing, err := db.MessageByNonce(ctx, nm.SenderID, nm.Nonce)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("insert message: conflicting row vanished")
		}
		if !messenger.SameSend(existing, nm) {
			return nil, fmt.Errorf("insert message: nonce %q: %w", nm.Nonce, messenger.ErrNonceConflict)
		}
		return existing, nil
	}

	if db.bus != nil {
		db.bus.Publish(bus.Event{Kind: bus.KindMessageInsert, Timestamp: m.CreatedAt, Payload: *m})
	}
	return m, nil
}

// MessageByNonce returns the message a sender wrote with nonce, or nil.
func (db *DB) MessageByNonce(ctx context.Context, senderID, nonce string) (*messenger.Message, error) {
	if nonce == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sender_id = ? AND nonce = ?`, senderID, nonce))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message by nonce: %w", err)
	}
	return m, nil
}

// QueryMessages returns a page of a thread's messages, newest first.
func (db *DB) QueryMessages(ctx context.Context, threadID string, limit, offset int) ([]messenger.Message, error) {
	if limit <= 0 {
		limit = messenger.DefaultPageSize
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]messenger.Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []messenger.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UnreadMessageIDs returns the ids of unread messages addressed to recipientID in a thread.
func (db *DB) UnreadMessageIDs(ctx context.Context, threadID, recipientID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE thread_id = ? AND recipient_id = ? AND is_read = 0
		ORDER BY created_at ASC`, threadID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("unread ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkMessagesRead sets is_read on the given messages in one transaction.
func (db *DB) MarkMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark read: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("mark read %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CountMessages counts messages matching p.
func (db *DB) CountMessages(ctx context.Context, p messenger.MessagePredicate) (int, error) {
	var (
		where []string
		args  []any
	)
	if p.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, p.ThreadID)
	}
	if p.RecipientID != "" {
		where = append(where, "recipient_id = ?")
		args = append(args, p.RecipientID)
	}
	if p.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	q := `SELECT COUNT(*) FROM messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	var n int
	if err := db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
