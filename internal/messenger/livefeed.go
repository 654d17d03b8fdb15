package messenger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LiveFeed delivers inbound messages to per-window subscriptions. All logical
// subscriptions of one user session share a single transport subscription,
// opened on first use and released when the last logical subscription ends.
type LiveFeed struct {
	feed   Feed
	userID string
	logger *zap.Logger

	mu     sync.Mutex
	handle FeedHandle
	subs   map[int]*Subscription
	next   int
}

// Subscription is one logical feed subscription. Unsubscribe tears it down
// exactly once; no callback runs after Unsubscribe returns.
type Subscription struct {
	id        int
	peer      string
	onMessage func(Message)
	feed      *LiveFeed

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewLiveFeed creates a live feed for userID over the transport feed.
func NewLiveFeed(feed Feed, userID string, logger *zap.Logger) *LiveFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveFeed{
		feed:   feed,
		userID: userID,
		logger: logger,
		subs:   make(map[int]*Subscription),
	}
}

// Subscribe delivers messages exchanged between the current user and otherUserID.
func (lf *LiveFeed) Subscribe(otherUserID string, onMessage func(Message)) (*Subscription, error) {
	if otherUserID == "" {
		return nil, fmt.Errorf("subscribe: empty peer")
	}
	return lf.add(otherUserID, onMessage)
}

// Watch delivers every message involving the current user, in any thread.
func (lf *LiveFeed) Watch(onMessage func(Message)) (*Subscription, error) {
	return lf.add("", onMessage)
}

func (lf *LiveFeed) add(peer string, onMessage func(Message)) (*Subscription, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.handle == nil {
		h, err := lf.feed.Subscribe(MessagesTable, FeedFilter{ParticipantID: lf.userID}, lf.dispatch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSubscriptionDropped, err)
		}
		lf.handle = h
		lf.logger.Debug("feed transport subscribed", zap.String("handle", h.ID()))
	}

	sub := &Subscription{id: lf.next, peer: peer, onMessage: onMessage, feed: lf}
	lf.next++
	lf.subs[sub.id] = sub
	return sub, nil
}

// dispatch filters a transport event and fans it out. Events for unrelated
// threads are dropped here, whatever the transport filter did.
func (lf *LiveFeed) dispatch(m Message) {
	if !m.Involves(lf.userID) {
		return
	}
	lf.mu.Lock()
	targets := make([]*Subscription, 0, len(lf.subs))
	for _, s := range lf.subs {
		if s.peer == "" || m.Between(lf.userID, s.peer) {
			targets = append(targets, s)
		}
	}
	lf.mu.Unlock()

	for _, s := range targets {
		s.deliver(m)
	}
}

func (s *Subscription) deliver(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onMessage(m)
}

// Peer returns the other user this subscription is scoped to.
func (s *Subscription) Peer() string { return s.peer }

// Unsubscribe ends the subscription. It must not be called from inside its own callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.feed.remove(s.id)
	})
}

func (lf *LiveFeed) remove(id int) {
	lf.mu.Lock()
	delete(lf.subs, id)
	var h FeedHandle
	if len(lf.subs) == 0 && lf.handle != nil {
		h = lf.handle
		lf.handle = nil
	}
	lf.mu.Unlock()

	if h != nil {
		lf.feed.Unsubscribe(h)
		lf.logger.Debug("feed transport released", zap.String("handle", h.ID()))
	}
}

// Active returns the number of live logical subscriptions.
func (lf *LiveFeed) Active() int {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return len(lf.subs)
}

// Close ends every logical subscription and releases the transport.
func (lf *LiveFeed) Close() {
	lf.mu.Lock()
	subs := make([]*Subscription, 0, len(lf.subs))
	for _, s := range lf.subs {
		subs = append(subs, s)
	}
	lf.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}
