package messenger

import (
	"context"
	"time"
)

// Identity yields the authenticated current user.
type Identity interface {
	CurrentUser(ctx context.Context) (User, error)
}

// Store is the durable row store for threads and messages.
//
// FindThread matches the ordered pair (userA, userB) only; callers probe both
// orderings. Missing rows are reported as (nil, nil). CreateThread must return
// ErrDuplicateThread when the unordered pair already exists and
// ErrContextRequired when a new pair has no context.
type Store interface {
	FindThread(ctx context.Context, userA, userB string) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	CreateThread(ctx context.Context, t NewThread) (*Thread, error)
	UpdateThread(ctx context.Context, id, lastMessage string, at time.Time) error
	ListThreads(ctx context.Context, userID string) ([]Thread, error)

	InsertMessage(ctx context.Context, m NewMessage) (*Message, error)
	// QueryMessages returns a page of a thread's messages, newest first.
	QueryMessages(ctx context.Context, threadID string, limit, offset int) ([]Message, error)
	UnreadMessageIDs(ctx context.Context, threadID, recipientID string) ([]string, error)
	MarkMessagesRead(ctx context.Context, ids []string) error
	CountMessages(ctx context.Context, p MessagePredicate) (int, error)
}

// Feed is the realtime row-insert feed.
type Feed interface {
	// Subscribe delivers inserted rows of table that pass the transport-level filter.
	// Callbacks run on a goroutine owned by the feed.
	Subscribe(table string, filter FeedFilter, onInsert func(Message)) (FeedHandle, error)
	// Unsubscribe stops delivery. No callback runs after it returns.
	Unsubscribe(h FeedHandle)
}

// FeedHandle identifies one feed subscription.
type FeedHandle interface {
	ID() string
}

// FeedFilter is a coarse transport-side filter. Consumers still filter events themselves.
type FeedFilter struct {
	ParticipantID string
}

// Profiles resolves user ids to display labels.
type Profiles interface {
	DisplayLabel(ctx context.Context, userID string) (string, error)
}

// MessagesTable is the feed table carrying message inserts.
const MessagesTable = "messages"
