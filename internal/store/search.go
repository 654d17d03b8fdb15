package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages finds messages of userID's threads whose body contains
// query, case-insensitively, newest first. threadID narrows the search to
// one thread when set.
func (db *DB) SearchMessages(ctx context.Context, userID, query, threadID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT m.id, m.thread_id, m.sender_id, m.recipient_id, m.body, m.nonce, m.is_read, m.created_at,
		       CASE WHEN t.user_a = ? THEN t.user_b ELSE t.user_a END
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE (t.user_a = ? OR t.user_b = ?)
		  AND m.body LIKE ? ESCAPE '\'`
	args := []any{userID, userID, userID, "%" + likeEscaper.Replace(query) + "%"}
	if threadID != "" {
		q += " AND m.thread_id = ?"
		args = append(args, threadID)
	}
	q += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			r       SearchResult
			nonce   sql.NullString
			created int64
		)
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ThreadID, &r.Message.SenderID, &r.Message.RecipientID,
			&r.Message.Text, &nonce, &r.Message.IsRead, &created, &r.PeerID,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Message.Nonce = nonce.String
		r.Message.CreatedAt = fromMicros(created)
		results = append(results, r)
	}
	return results, rows.Err()
}
