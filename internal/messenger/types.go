package messenger

import (
	"sort"
	"strings"
	"time"
)

// User is the authenticated current user.
type User struct {
	ID        string
	DisplayID string
}

// ThreadContext is the listing or flatmate profile a thread was started from.
// At most one of the two ids is set.
type ThreadContext struct {
	ListingID  string
	FlatmateID string
}

// IsZero reports whether no context is attached.
func (c ThreadContext) IsZero() bool {
	return c.ListingID == "" && c.FlatmateID == ""
}

// Valid reports whether the context is a listing XOR a flatmate profile XOR none.
func (c ThreadContext) Valid() bool {
	return c.ListingID == "" || c.FlatmateID == ""
}

// Thread is a durable 1:1 conversation between two users.
type Thread struct {
	ID            string
	UserA         string
	UserB         string
	Context       ThreadContext
	LastMessage   string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Peer returns the participant that is not userID.
func (t *Thread) Peer(userID string) string {
	if t.UserA == userID {
		return t.UserB
	}
	return t.UserA
}

// Has reports whether userID participates in the thread.
func (t *Thread) Has(userID string) bool {
	return t.UserA == userID || t.UserB == userID
}

// Message is the normalized in-memory message shape. Storage row shapes are
// converted to this before reaching the core.
type Message struct {
	ID          string
	ThreadID    string
	SenderID    string
	RecipientID string
	Text        string
	Nonce       string
	CreatedAt   time.Time
	IsRead      bool

	// Pending marks an optimistic local echo that has no durable row yet.
	Pending bool
}

// Between reports whether the message was exchanged by the unordered pair {a, b}.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// Involves reports whether userID sent or received the message.
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// VisualState is the presentation state of a conversation window.
type VisualState int

const (
	Normal VisualState = iota
	Minimized
	Expanded
)

func (s VisualState) String() string {
	switch s {
	case Normal:
		return "normal"
	case Minimized:
		return "minimized"
	case Expanded:
		return "expanded"
	default:
		return "unknown"
	}
}

// Foreground reports whether the window content is visible to the user.
func (s VisualState) Foreground() bool {
	return s == Normal || s == Expanded
}

// ThreadListEntry is one sidebar row, rebuilt on demand.
type ThreadListEntry struct {
	ThreadID      string
	PeerID        string
	DisplayName   string
	Context       ThreadContext
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
}

// MessagePredicate selects messages for counting.
type MessagePredicate struct {
	ThreadID    string
	RecipientID string
	UnreadOnly  bool
}

// NewThread holds the fields of a thread to create.
type NewThread struct {
	UserA   string
	UserB   string
	Context ThreadContext
}

// NewMessage holds the fields of a message to insert.
type NewMessage struct {
	ThreadID    string
	SenderID    string
	RecipientID string
	Text        string
	Nonce       string
}

// PendingWindowID derives the temporary id of a window whose thread is not known yet.
func PendingWindowID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "pending:" + strings.Join(pair, ":")
}

// SortChronological orders messages ascending by CreatedAt, keeping the
// relative order of equal timestamps.
func SortChronological(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SameSend reports whether stored is the row a retry of nm would have written.
func SameSend(stored *Message, nm NewMessage) bool {
	return stored.ThreadID == nm.ThreadID && stored.RecipientID == nm.RecipientID && stored.Text == nm.Text
}
