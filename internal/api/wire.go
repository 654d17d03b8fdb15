package api

import (
	"time"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
)

// ThreadContext is the wire form of messenger.ThreadContext.
type ThreadContext struct {
	ListingID  string `json:"listing_id,omitempty"`
	FlatmateID string `json:"flatmate_id,omitempty"`
}

// Thread is the wire form of messenger.Thread.
type Thread struct {
	ID            string        `json:"id"`
	UserA         string        `json:"user_a"`
	UserB         string        `json:"user_b"`
	Context       ThreadContext `json:"context"`
	LastMessage   string        `json:"last_message,omitempty"`
	LastMessageAt time.Time     `json:"last_message_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Message is the wire form of messenger.Message.
type Message struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text"`
	Nonce       string    `json:"nonce,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	IsRead      bool      `json:"is_read"`
}

type UserResponse struct {
	ID        string `json:"id"`
	DisplayID string `json:"display_id"`
}

type RegisterUserRequest struct {
	UserID    string `json:"user_id"`
	DisplayID string `json:"display_id,omitempty"`
	Label     string `json:"label,omitempty"`
}

type RegisterUserResponse struct {
	Token string `json:"token"`
}

type FindThreadRequest struct {
	UserA string `json:"user_a"`
	UserB string `json:"user_b"`
}

type GetThreadRequest struct {
	ID string `json:"id"`
}

type CreateThreadRequest struct {
	UserA   string        `json:"user_a"`
	UserB   string        `json:"user_b"`
	Context ThreadContext `json:"context"`
}

// ThreadResponse carries a thread; Thread is nil when none matched.
type ThreadResponse struct {
	Thread *Thread `json:"thread,omitempty"`
}

type UpdateThreadRequest struct {
	ID          string    `json:"id"`
	LastMessage string    `json:"last_message"`
	At          time.Time `json:"at"`
}

type ListThreadsRequest struct {
	UserID string `json:"user_id"`
}

type ThreadsResponse struct {
	Threads []Thread `json:"threads"`
}

type InsertMessageRequest struct {
	ThreadID    string `json:"thread_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
	Nonce       string `json:"nonce,omitempty"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type QueryMessagesRequest struct {
	ThreadID string `json:"thread_id"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

type MarkMessagesReadRequest struct {
	IDs []string `json:"ids"`
}

type UnreadMessageIDsRequest struct {
	ThreadID    string `json:"thread_id"`
	RecipientID string `json:"recipient_id"`
}

type IDsResponse struct {
	IDs []string `json:"ids"`
}

type CountUnreadRequest struct {
	ThreadID    string `json:"thread_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	UnreadOnly  bool   `json:"unread_only"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type DisplayLabelRequest struct {
	UserID string `json:"user_id"`
}

type LabelResponse struct {
	Label string `json:"label"`
}

type SearchMessagesRequest struct {
	UserID   string `json:"user_id"`
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type SearchHit struct {
	Message Message `json:"message"`
	PeerID  string  `json:"peer_id"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

type WatchInsertsRequest struct {
	ParticipantID string `json:"participant_id"`
}

func contextToWire(c messenger.ThreadContext) ThreadContext {
	return ThreadContext{ListingID: c.ListingID, FlatmateID: c.FlatmateID}
}

func (c ThreadContext) domain() messenger.ThreadContext {
	return messenger.ThreadContext{ListingID: c.ListingID, FlatmateID: c.FlatmateID}
}

// ThreadToWire converts a domain thread.
func ThreadToWire(t *messenger.Thread) *Thread {
	if t == nil {
		return nil
	}
	return &Thread{
		ID:            t.ID,
		UserA:         t.UserA,
		UserB:         t.UserB,
		Context:       contextToWire(t.Context),
		LastMessage:   t.LastMessage,
		LastMessageAt: t.LastMessageAt,
		CreatedAt:     t.CreatedAt,
	}
}

// Domain converts a wire thread.
func (t *Thread) Domain() *messenger.Thread {
	if t == nil {
		return nil
	}
	return &messenger.Thread{
		ID:            t.ID,
		UserA:         t.UserA,
		UserB:         t.UserB,
		Context:       t.Context.domain(),
		LastMessage:   t.LastMessage,
		LastMessageAt: t.LastMessageAt,
		CreatedAt:     t.CreatedAt,
	}
}

// MessageToWire converts a domain message. Pending echoes never cross the wire.
func MessageToWire(m messenger.Message) Message {
	return Message{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		Nonce:       m.Nonce,
		CreatedAt:   m.CreatedAt,
		IsRead:      m.IsRead,
	}
}

// Domain converts a wire message.
func (m Message) Domain() messenger.Message {
	return messenger.Message{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		Nonce:       m.Nonce,
		CreatedAt:   m.CreatedAt,
		IsRead:      m.IsRead,
	}
}

func messagesToWire(msgs []messenger.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageToWire(m))
	}
	return out
}

func searchToWire(results []store.SearchResult) []SearchHit {
	out := make([]SearchHit, 0, len(results))
	for _, r := range results {
		out = append(out, SearchHit{Message: MessageToWire(r.Message), PeerID: r.PeerID})
	}
	return out
}
