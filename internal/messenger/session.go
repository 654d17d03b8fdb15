package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
)

// SessionConfig holds the collaborators of a Session.
type SessionConfig struct {
	Identity Identity
	Store    Store
	Feed     Feed
	Profiles Profiles
	Bus      *bus.Bus
	Timeout  time.Duration
	PageSize int
	Logger   *zap.Logger
}

// Session runs the messaging core for one authenticated user. Every state
// change is published on the bus so views can re-render from snapshots.
type Session struct {
	user     User
	resolver *ThreadResolver
	port     *MessagePort
	live     *LiveFeed
	unread   *UnreadTracker
	threads  *ThreadListAggregator
	windows  *WindowManager
	profiles Profiles
	bus      *bus.Bus
	timeout  time.Duration
	pageSize int
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	watch *Subscription
}

// WindowEvent is the payload of window.updated and window.closed.
type WindowEvent struct {
	Peer   string
	Window WindowSnapshot
}

// ThreadsChanged is the payload of threads.changed.
type ThreadsChanged struct {
	ThreadID string
}

// SendFailed is the payload of send.failed.
type SendFailed struct {
	Peer  string
	Draft string
	Err   error
}

// NewSession authenticates and assembles the core. It fails with
// ErrUnauthenticated when there is no current user.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	user, err := cfg.Identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}
	logger = logger.With(zap.String("user_id", user.ID))

	resolver := NewThreadResolver(cfg.Store, timeout, logger)
	unread := NewUnreadTracker(cfg.Store, user.ID, timeout, logger)
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		user:     user,
		resolver: resolver,
		port:     NewMessagePort(cfg.Identity, resolver, cfg.Store, timeout, logger),
		live:     NewLiveFeed(cfg.Feed, user.ID, logger),
		unread:   unread,
		threads:  NewThreadListAggregator(cfg.Identity, cfg.Store, cfg.Profiles, unread, timeout, logger),
		windows:  NewWindowManager(user.ID),
		profiles: cfg.Profiles,
		bus:      cfg.Bus,
		timeout:  timeout,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
		ctx:      sctx,
		cancel:   cancel,
	}

	watch, err := s.live.Watch(s.onAnyMessage)
	if err != nil {
		// Sidebar refreshes only on demand until Rewatch succeeds.
		logger.Warn("thread watch unavailable", zap.Error(err))
	} else {
		s.watch = watch
	}
	return s, nil
}

// User returns the authenticated user.
func (s *Session) User() User { return s.user }

// Windows returns the window manager.
func (s *Session) Windows() *WindowManager { return s.windows }

// Rewatch re-establishes the sidebar watch after a dropped feed.
func (s *Session) Rewatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch != nil {
		return nil
	}
	watch, err := s.live.Watch(s.onAnyMessage)
	if err != nil {
		return err
	}
	s.watch = watch
	return nil
}

// Threads returns the sidebar list.
func (s *Session) Threads(ctx context.Context) ([]ThreadListEntry, error) {
	return s.threads.List(ctx)
}

// TotalUnread counts the user's unread inbound messages across all threads.
func (s *Session) TotalUnread(ctx context.Context) (int, error) {
	return s.unread.TotalUnread(ctx)
}

// Resync recovers from a feed gap: cached unread counts are dropped and every
// open window reloads its latest page. Rows inserted while the feed was down
// are never replayed by it.
func (s *Session) Resync(ctx context.Context) error {
	s.unread.Reset()
	var errs []error
	for _, w := range s.windows.List() {
		if err := s.Reload(ctx, w.PeerID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.PeerID, err))
			continue
		}
		if err := s.markRead(ctx, w.PeerID); err != nil {
			s.logger.Warn("mark read after resync failed", zap.String("peer", w.PeerID), zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// OpenConversation opens (or re-activates) the window for peer, subscribes it
// to the live feed and loads the latest page of history. A history failure
// leaves the window open; Reload retries it.
func (s *Session) OpenConversation(ctx context.Context, peer string, tc ThreadContext) (WindowSnapshot, error) {
	if peer == "" || peer == s.user.ID {
		return WindowSnapshot{}, ErrSelfConversation
	}
	if !tc.Valid() {
		return WindowSnapshot{}, ErrInvalidContext
	}

	snap, created := s.windows.Open(peer, s.label(ctx, peer), tc)
	if !created {
		s.publishWindow(peer)
		if err := s.markRead(ctx, peer); err != nil {
			s.logger.Warn("mark read on reopen failed", zap.String("peer", peer), zap.Error(err))
		}
		return s.snapshot(peer, snap), nil
	}

	sub, err := s.live.Subscribe(peer, func(m Message) { s.onWindowMessage(peer, m) })
	if err != nil {
		s.logger.Warn("window feed unavailable", zap.String("peer", peer), zap.Error(err))
	} else {
		s.windows.Attach(peer, snap.OpenedAt, sub)
	}

	if err := s.Reload(ctx, peer); err != nil {
		return s.snapshot(peer, snap), err
	}
	if err := s.markRead(ctx, peer); err != nil {
		s.logger.Warn("mark read on open failed", zap.String("peer", peer), zap.Error(err))
	}
	return s.snapshot(peer, snap), nil
}

// Reload fetches the latest page of history into the peer's window.
func (s *Session) Reload(ctx context.Context, peer string) error {
	t, err := s.resolver.Find(ctx, s.user.ID, peer)
	if errors.Is(err, ErrThreadNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	msgs, err := s.port.ThreadHistory(ctx, t.ID, s.pageSize, 0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	unread, err := s.unread.UnreadCountFor(ctx, t.ID)
	if err != nil {
		s.logger.Warn("unread count failed", zap.String("thread_id", t.ID), zap.Error(err))
	}
	_, err = s.windows.With(peer, func(w *Window) {
		w.BindThread(t.ID)
		if w.Context.IsZero() {
			w.Context = t.Context
		}
		w.Buffer().Load(msgs)
		w.SetUnread(unread)
	})
	if err != nil {
		// Closed while loading.
		return nil
	}
	s.publishWindow(peer)
	return nil
}

// LoadOlder prepends the next page of older history. Returns the number of
// messages fetched.
func (s *Session) LoadOlder(ctx context.Context, peer string) (int, error) {
	snap, ok := s.windows.Get(peer)
	if !ok {
		return 0, fmt.Errorf("load older %s: %w", peer, ErrWindowNotFound)
	}
	if snap.ThreadID == "" {
		return 0, nil
	}
	offset := len(snap.Messages) - snap.Pending
	msgs, err := s.port.ThreadHistory(ctx, snap.ThreadID, s.pageSize, offset)
	if err != nil {
		return 0, fmt.Errorf("load older: %w", err)
	}
	if _, err := s.windows.With(peer, func(w *Window) { w.Buffer().Load(msgs) }); err != nil {
		return 0, nil
	}
	s.publishWindow(peer)
	return len(msgs), nil
}

// Send echoes text into the peer's window immediately, then writes it durably.
// On failure the echo is removed and a *SendError carrying the draft is returned.
// When the window was closed meanwhile, the result is discarded.
func (s *Session) Send(ctx context.Context, peer, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SendError{Peer: peer, Draft: text, Err: ErrEmptyMessage}
	}
	nonce := uuid.NewString()

	var (
		tc       ThreadContext
		threadID string
	)
	_, err := s.windows.With(peer, func(w *Window) {
		w.Buffer().AppendOptimistic(peer, text, nonce, s.now())
		tc = w.Context
		threadID = w.ThreadID
	})
	if err != nil {
		return nil, &SendError{Peer: peer, Draft: text, Err: err}
	}
	s.publishWindow(peer)

	var msg *Message
	if threadID != "" {
		msg, err = s.port.SendToThread(ctx, threadID, text, nonce)
	} else {
		msg, err = s.port.Send(ctx, peer, text, nonce, tc)
	}
	if err != nil {
		if _, werr := s.windows.With(peer, func(w *Window) { w.Buffer().Rollback(nonce) }); werr == nil {
			s.publishWindow(peer)
		}
		serr := &SendError{Peer: peer, Draft: text, Err: err}
		s.publish(bus.KindSendFailed, SendFailed{Peer: peer, Draft: text, Err: err})
		s.logger.Warn("send failed", zap.String("peer", peer), zap.Error(err))
		return nil, serr
	}

	// The feed delivers the same row; Deliver is idempotent by id and nonce.
	if _, werr := s.windows.With(peer, func(w *Window) {
		w.BindThread(msg.ThreadID)
		w.Buffer().Deliver(*msg)
	}); werr == nil {
		s.publishWindow(peer)
	}
	s.publish(bus.KindThreadsChanged, ThreadsChanged{ThreadID: msg.ThreadID})
	return msg, nil
}

// Minimize toggles the peer's window between Minimized and Normal.
func (s *Session) Minimize(ctx context.Context, peer string) (WindowSnapshot, error) {
	snap, err := s.windows.Minimize(peer)
	if err != nil {
		return snap, err
	}
	return s.afterTransition(ctx, peer, snap), nil
}

// Expand toggles the peer's window between Expanded and Normal.
func (s *Session) Expand(ctx context.Context, peer string) (WindowSnapshot, error) {
	snap, err := s.windows.Expand(peer)
	if err != nil {
		return snap, err
	}
	return s.afterTransition(ctx, peer, snap), nil
}

func (s *Session) afterTransition(ctx context.Context, peer string, snap WindowSnapshot) WindowSnapshot {
	s.publishWindow(peer)
	if snap.State.Foreground() {
		if err := s.markRead(ctx, peer); err != nil {
			s.logger.Warn("mark read failed", zap.String("peer", peer), zap.Error(err))
		}
	}
	return s.snapshot(peer, snap)
}

// CloseWindow removes the peer's window and ends its feed subscription.
func (s *Session) CloseWindow(peer string) error {
	snap, _ := s.windows.Get(peer)
	if err := s.windows.Close(peer); err != nil {
		return err
	}
	s.publish(bus.KindWindowClosed, WindowEvent{Peer: peer, Window: snap})
	return nil
}

// Close tears down every window and the live feed, and waits for background work.
func (s *Session) Close() {
	s.mu.Lock()
	watch := s.watch
	s.watch = nil
	s.mu.Unlock()
	if watch != nil {
		watch.Unsubscribe()
	}
	s.windows.CloseAll()
	s.live.Close()
	s.cancel()
	s.wg.Wait()
}

// markRead clears the unread messages of a foregrounded window. Minimized
// windows and windows without a thread are left alone.
func (s *Session) markRead(ctx context.Context, peer string) error {
	snap, ok := s.windows.Get(peer)
	if !ok || !snap.State.Foreground() || snap.ThreadID == "" {
		return nil
	}
	ids, err := s.unread.MarkRead(ctx, snap.ThreadID)
	if err != nil {
		return err
	}
	if _, err := s.windows.With(peer, func(w *Window) {
		w.Buffer().MarkRead(ids)
		w.SetUnread(0)
	}); err != nil {
		return nil
	}
	if len(ids) > 0 {
		s.publishWindow(peer)
		s.publish(bus.KindThreadsChanged, ThreadsChanged{ThreadID: snap.ThreadID})
	}
	return nil
}

// onWindowMessage runs on the feed goroutine for messages with the window's peer.
func (s *Session) onWindowMessage(peer string, m Message) {
	var (
		res        DeliverResult
		foreground bool
	)
	_, err := s.windows.With(peer, func(w *Window) {
		if w.ThreadID == "" {
			w.BindThread(m.ThreadID)
		}
		res = w.Buffer().Deliver(m)
		foreground = w.State.Foreground()
	})
	if err != nil || res == Ignored {
		return
	}
	s.publishWindow(peer)

	if m.SenderID != peer || m.IsRead {
		return
	}
	s.unread.Observe(m)
	s.background(func(ctx context.Context) {
		if foreground {
			if err := s.markRead(ctx, peer); err != nil {
				s.logger.Warn("mark read on delivery failed", zap.String("peer", peer), zap.Error(err))
			}
			return
		}
		n, err := s.unread.UnreadCountFor(ctx, m.ThreadID)
		if err != nil {
			s.logger.Warn("unread count failed", zap.String("thread_id", m.ThreadID), zap.Error(err))
			return
		}
		if _, err := s.windows.With(peer, func(w *Window) { w.SetUnread(n) }); err == nil {
			s.publishWindow(peer)
		}
	})
}

// onAnyMessage keeps the sidebar fresh for every thread of the user.
func (s *Session) onAnyMessage(m Message) {
	if m.RecipientID == s.user.ID {
		s.unread.Observe(m)
	}
	s.publish(bus.KindThreadsChanged, ThreadsChanged{ThreadID: m.ThreadID})
}

func (s *Session) background(fn func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Session) label(ctx context.Context, peer string) string {
	if s.profiles == nil {
		return peer
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	name, err := s.profiles.DisplayLabel(ctx, peer)
	if err != nil || name == "" {
		return peer
	}
	return name
}

// snapshot returns the current state of the peer's window, or fallback when it is gone.
func (s *Session) snapshot(peer string, fallback WindowSnapshot) WindowSnapshot {
	if snap, ok := s.windows.Get(peer); ok {
		return snap
	}
	return fallback
}

func (s *Session) publishWindow(peer string) {
	snap, ok := s.windows.Get(peer)
	if !ok {
		return
	}
	s.publish(bus.KindWindowUpdated, WindowEvent{Peer: peer, Window: snap})
}

func (s *Session) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: s.now(), Payload: payload})
}
