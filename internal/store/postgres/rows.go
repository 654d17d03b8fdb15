package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
)

var (
	_ messenger.Store    = (*Store)(nil)
	_ messenger.Profiles = (*Store)(nil)
)

const conversationColumns = `id::text, participant_one, participant_two, listing_id, flatmate_id, last_message, last_message_at, created_at`

// conversationRow is the legacy thread shape.
type conversationRow struct {
	ID             string
	ParticipantOne string
	ParticipantTwo string
	ListingID      *string
	FlatmateID     *string
	LastMessage    string
	LastMessageAt  *time.Time
	CreatedAt      time.Time
}

func (r conversationRow) thread() messenger.Thread {
	return messenger.Thread{
		ID:            r.ID,
		UserA:         r.ParticipantOne,
		UserB:         r.ParticipantTwo,
		Context:       messenger.ThreadContext{ListingID: deref(r.ListingID), FlatmateID: deref(r.FlatmateID)},
		LastMessage:   r.LastMessage,
		LastMessageAt: derefTime(r.LastMessageAt),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func scanConversation(row pgx.Row) (*messenger.Thread, error) {
	var r conversationRow
	if err := row.Scan(&r.ID, &r.ParticipantOne, &r.ParticipantTwo, &r.ListingID, &r.FlatmateID, &r.LastMessage, &r.LastMessageAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	t := r.thread()
	return &t, nil
}

// chatMessageRow is the legacy message shape. It has no recipient column;
// the recipient is the other participant of the conversation.
type chatMessageRow struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	ClientRef      *string
	SentAt         time.Time
	ReadAt         *time.Time
}

func (r chatMessageRow) message() messenger.Message {
	return messenger.Message{
		ID:          r.ID,
		ThreadID:    r.ConversationID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Text:        r.Content,
		Nonce:       deref(r.ClientRef),
		CreatedAt:   r.SentAt.UTC(),
		IsRead:      r.ReadAt != nil,
	}
}

const messageSelect = `
	SELECT m.id::text, m.conversation_id::text, m.sender_id,
	       CASE WHEN m.sender_id = c.participant_one THEN c.participant_two ELSE c.participant_one END,
	       m.content, m.client_ref, m.sent_at, m.read_at
	FROM chat_messages m
	JOIN conversations c ON c.id = m.conversation_id`

func scanChatMessage(row pgx.Row) (*messenger.Message, error) {
	var r chatMessageRow
	if err := row.Scan(&r.ID, &r.ConversationID, &r.SenderID, &r.RecipientID, &r.Content, &r.ClientRef, &r.SentAt, &r.ReadAt); err != nil {
		return nil, err
	}
	m := r.message()
	return &m, nil
}

// FindThread returns the conversation stored with exactly (userA, userB), or nil.
func (s *Store) FindThread(ctx context.Context, userA, userB string) (*messenger.Thread, error) {
	t, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE participant_one = $1 AND participant_two = $2`, userA, userB))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return t, nil
}

// GetThread returns a conversation by id, or nil.
func (s *Store) GetThread(ctx context.Context, id string) (*messenger.Thread, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	t, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return t, nil
}

// CreateThread inserts a conversation; the pair index turns a second
// creation into messenger.ErrDuplicateThread.
func (s *Store) CreateThread(ctx context.Context, nt messenger.NewThread) (*messenger.Thread, error) {
	if !nt.Context.Valid() {
		return nil, messenger.ErrInvalidContext
	}
	if nt.Context.IsZero() {
		var exists bool
		err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM conversations
			WHERE LEAST(participant_one, participant_two) = LEAST($1, $2)
			  AND GREATEST(participant_one, participant_two) = GREATEST($1, $2))`,
			nt.UserA, nt.UserB).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("probe conversation: %w", err)
		}
		if exists {
			return nil, messenger.ErrDuplicateThread
		}
		return nil, messenger.ErrContextRequired
	}

	id := uuid.NewString()
	t, err := scanConversation(s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, participant_one, participant_two, listing_id, flatmate_id, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING `+conversationColumns,
		id, nt.UserA, nt.UserB, nullable(nt.Context.ListingID), nullable(nt.Context.FlatmateID), s.now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, messenger.ErrDuplicateThread
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return t, nil
}

// UpdateThread stores the last-message preview unless a newer one is stored.
func (s *Store) UpdateThread(ctx context.Context, id, lastMessage string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET last_message = $2, last_message_at = $3
		WHERE id = $1::uuid AND (last_message_at IS NULL OR last_message_at <= $3)`,
		id, lastMessage, at.UTC())
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// ListThreads returns the conversations of userID, most recent first.
func (s *Store) ListThreads(ctx context.Context, userID string) ([]messenger.Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_one = $1 OR participant_two = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var threads []messenger.Thread
	for rows.Next() {
		t, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// InsertMessage appends a chat message. A retried insert with the same
// (sender, client_ref) returns the stored row and is not published again;
// a different message under a used client_ref fails with ErrNonceConflict.
func (s *Store) InsertMessage(ctx context.Context, nm messenger.NewMessage) (*messenger.Message, error) {
	t, err := s.GetThread(ctx, nm.ThreadID)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.Has(nm.SenderID) || t.Peer(nm.SenderID) != nm.RecipientID {
		return nil, messenger.ErrThreadNotFound
	}

	id := uuid.NewString()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, conversation_id, sender_id, content, client_ref, sent_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		id, nm.ThreadID, nm.SenderID, nm.Text, nullable(nm.Nonce), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// client_ref conflict: the send was already stored.
		m, err := scanChatMessage(s.pool.QueryRow(ctx,
			messageSelect+` WHERE m.sender_id = $1 AND m.client_ref = $2`, nm.SenderID, nm.Nonce))
		if err != nil {
			return nil, fmt.Errorf("read back chat message: %w", err)
		}
		if !messenger.SameSend(m, nm) {
			return nil, fmt.Errorf("insert chat message: client_ref %q: %w", nm.Nonce, messenger.ErrNonceConflict)
		}
		return m, nil
	}

	m, err := scanChatMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1::uuid`, id))
	if err != nil {
		return nil, fmt.Errorf("read back chat message: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageInsert, Timestamp: m.CreatedAt, Payload: *m})
	}
	return m, nil
}

// QueryMessages returns a page of a conversation's messages, newest first.
func (s *Store) QueryMessages(ctx context.Context, threadID string, limit, offset int) ([]messenger.Message, error) {
	if limit <= 0 {
		limit = messenger.DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, messageSelect+`
		WHERE m.conversation_id = $1::uuid
		ORDER BY m.sent_at DESC
		LIMIT $2 OFFSET $3`, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []messenger.Message
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UnreadMessageIDs returns unread messages of a conversation not sent by recipientID.
func (s *Store) UnreadMessageIDs(ctx context.Context, threadID, recipientID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id::text FROM chat_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = $1::uuid AND m.read_at IS NULL AND m.sender_id <> $2
		  AND (c.participant_one = $2 OR c.participant_two = $2)
		ORDER BY m.sent_at ASC`, threadID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("unread ids: %w", err)
	}
	defer rows.Close()

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

// MarkMessagesRead stamps read_at on the given messages.
func (s *Store) MarkMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET read_at = $2
		WHERE id::text = ANY($1::text[]) AND read_at IS NULL`, ids, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CountMessages counts messages matching p.
func (s *Store) CountMessages(ctx context.Context, p messenger.MessagePredicate) (int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if p.ThreadID != "" {
		where = append(where, "m.conversation_id = "+arg(p.ThreadID)+"::uuid")
	}
	if p.RecipientID != "" {
		ph := arg(p.RecipientID)
		where = append(where, "m.sender_id <> "+ph, "(c.participant_one = "+ph+" OR c.participant_two = "+ph+")")
	}
	if p.UnreadOnly {
		where = append(where, "m.read_at IS NULL")
	}
	q := `SELECT COUNT(*) FROM chat_messages m JOIN conversations c ON c.id = m.conversation_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chat messages: %w", err)
	}
	return n, nil
}

// SearchMessages finds messages of userID's conversations containing query.
func (s *Store) SearchMessages(ctx context.Context, userID, query, threadID string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := messageSelect + `
		WHERE (c.participant_one = $1 OR c.participant_two = $1)
		  AND m.content ILIKE '%' || $2 || '%'`
	args := []any{userID, escapeLike(query)}
	if threadID != "" {
		q += ` AND m.conversation_id = $3::uuid`
		args = append(args, threadID)
	}
	q += fmt.Sprintf(` ORDER BY m.sent_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search chat messages: %w", err)
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		peer := m.SenderID
		if peer == userID {
			peer = m.RecipientID
		}
		results = append(results, store.SearchResult{Message: *m, PeerID: peer})
	}
	return results, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// UpsertUser inserts or updates a profile row.
func (s *Store) UpsertUser(ctx context.Context, u *store.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, username, full_name, token_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE profiles.username END,
			full_name = CASE WHEN EXCLUDED.full_name <> '' THEN EXCLUDED.full_name ELSE profiles.full_name END,
			token_hash = CASE WHEN EXCLUDED.token_hash <> '' THEN EXCLUDED.token_hash ELSE profiles.token_hash END`,
		u.ID, u.DisplayID, u.DisplayLabel, u.TokenHash, s.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetUser returns a profile by id, or nil.
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, full_name, token_hash, created_at FROM profiles WHERE id = $1`, id).
		Scan(&u.ID, &u.DisplayID, &u.DisplayLabel, &u.TokenHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &u, nil
}

// DisplayLabel returns full_name, then username, then the id. Unknown users
// have an empty label.
func (s *Store) DisplayLabel(ctx context.Context, id string) (string, error) {
	var label string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(NULLIF(full_name, ''), NULLIF(username, ''), id) FROM profiles WHERE id = $1`, id).Scan(&label)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("display label: %w", err)
	}
	return label, nil
}
