package messenger

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UnreadTracker keeps per-thread unread counts for the current user and writes
// read receipts. A message is unread iff it is not read and was sent by the peer.
//
// Counts are tracked by message id: the store seeds each thread once, feed
// deliveries add ids, and ids marked read locally are never counted again.
// Store calls run outside mu, so Observe never waits on the network.
type UnreadTracker struct {
	store   Store
	userID  string
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	unread  map[string]map[string]struct{}
	seeding map[string]*seedState
	read    map[string]struct{}
}

// seedState collects ids observed while a thread's seed query is in flight.
type seedState struct {
	queries int
	early   map[string]struct{}
}

// NewUnreadTracker creates a tracker for userID.
func NewUnreadTracker(store Store, userID string, timeout time.Duration, logger *zap.Logger) *UnreadTracker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnreadTracker{
		store:   store,
		userID:  userID,
		timeout: timeout,
		logger:  logger,
		unread:  make(map[string]map[string]struct{}),
		seeding: make(map[string]*seedState),
		read:    make(map[string]struct{}),
	}
}

// seed loads the thread's unread ids from the store unless they are cached.
func (u *UnreadTracker) seed(ctx context.Context, threadID string) error {
	u.mu.Lock()
	if _, ok := u.unread[threadID]; ok {
		u.mu.Unlock()
		return nil
	}
	st, ok := u.seeding[threadID]
	if !ok {
		st = &seedState{early: make(map[string]struct{})}
		u.seeding[threadID] = st
	}
	st.queries++
	u.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, u.timeout)
	ids, err := u.store.UnreadMessageIDs(qctx, threadID, u.userID)
	cancel()

	u.mu.Lock()
	defer u.mu.Unlock()
	st.queries--
	if st.queries == 0 && u.seeding[threadID] == st {
		delete(u.seeding, threadID)
	}
	if err != nil {
		return unavailable("load unread", err)
	}
	set, ok := u.unread[threadID]
	if !ok {
		set = make(map[string]struct{}, len(ids)+len(st.early))
		u.unread[threadID] = set
	}
	for _, id := range ids {
		if _, done := u.read[id]; !done {
			set[id] = struct{}{}
		}
	}
	for id := range st.early {
		if _, done := u.read[id]; !done {
			set[id] = struct{}{}
		}
	}
	return nil
}

// UnreadCountFor returns the number of unread inbound messages in the thread.
func (u *UnreadTracker) UnreadCountFor(ctx context.Context, threadID string) (int, error) {
	if err := u.seed(ctx, threadID); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.unread[threadID]), nil
}

// Observe records a delivered message. Returns true when it raised the count.
func (u *UnreadTracker) Observe(m Message) bool {
	if m.Pending || m.IsRead || m.SenderID == u.userID || m.RecipientID != u.userID {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, done := u.read[m.ID]; done {
		return false
	}
	set, ok := u.unread[m.ThreadID]
	if !ok {
		// The seed query may have run before this row committed.
		if st, seeding := u.seeding[m.ThreadID]; seeding {
			st.early[m.ID] = struct{}{}
		}
		return false
	}
	if _, dup := set[m.ID]; dup {
		return false
	}
	set[m.ID] = struct{}{}
	return true
}

// MarkRead flags every unread inbound message of the thread as read, durably,
// and removes them from the count. Repeated calls issue no further writes.
// Returns the ids that were marked.
func (u *UnreadTracker) MarkRead(ctx context.Context, threadID string) ([]string, error) {
	if err := u.seed(ctx, threadID); err != nil {
		return nil, err
	}
	u.mu.Lock()
	ids := make([]string, 0, len(u.unread[threadID]))
	for id := range u.unread[threadID] {
		ids = append(ids, id)
	}
	u.mu.Unlock()
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	writeCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if err := u.store.MarkMessagesRead(writeCtx, ids); err != nil {
		return nil, unavailable("mark read", err)
	}

	u.mu.Lock()
	set := u.unread[threadID]
	for _, id := range ids {
		u.read[id] = struct{}{}
		delete(set, id)
	}
	u.mu.Unlock()
	u.logger.Debug("thread marked read", zap.String("thread_id", threadID), zap.Int("count", len(ids)))
	return ids, nil
}

// TotalUnread counts all unread inbound messages of the user in the store.
func (u *UnreadTracker) TotalUnread(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	n, err := u.store.CountMessages(ctx, MessagePredicate{RecipientID: u.userID, UnreadOnly: true})
	if err != nil {
		return 0, unavailable("count unread", err)
	}
	return n, nil
}

// Reset drops every cached count so the next lookup re-seeds from the store.
// Used after a feed gap, when deliveries may have been missed.
func (u *UnreadTracker) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unread = make(map[string]map[string]struct{})
}
