package messenger

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ThreadListAggregator builds the sidebar thread list for the current user.
type ThreadListAggregator struct {
	identity Identity
	store    Store
	profiles Profiles
	unread   *UnreadTracker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewThreadListAggregator creates an aggregator. profiles may be nil, in which
// case peers are labelled by id.
func NewThreadListAggregator(identity Identity, store Store, profiles Profiles, unread *UnreadTracker, timeout time.Duration, logger *zap.Logger) *ThreadListAggregator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadListAggregator{
		identity: identity,
		store:    store,
		profiles: profiles,
		unread:   unread,
		timeout:  timeout,
		logger:   logger,
	}
}

// List returns one entry per thread of the current user, most recent first.
// Label and unread lookups that fail degrade to the peer id and zero.
func (a *ThreadListAggregator) List(ctx context.Context) ([]ThreadListEntry, error) {
	user, err := a.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, a.timeout)
	threads, err := a.store.ListThreads(listCtx, user.ID)
	cancel()
	if err != nil {
		return nil, unavailable("list threads", err)
	}

	entries := make([]ThreadListEntry, 0, len(threads))
	for i := range threads {
		t := &threads[i]
		if !t.Has(user.ID) {
			continue
		}
		peer := t.Peer(user.ID)
		e := ThreadListEntry{
			ThreadID:      t.ID,
			PeerID:        peer,
			DisplayName:   a.label(ctx, peer),
			Context:       t.Context,
			LastMessage:   t.LastMessage,
			LastMessageAt: t.LastMessageAt,
		}
		if a.unread != nil {
			n, err := a.unread.UnreadCountFor(ctx, t.ID)
			if err != nil {
				a.logger.Warn("unread count failed", zap.String("thread_id", t.ID), zap.Error(err))
			}
			e.UnreadCount = n
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastMessageAt.After(entries[j].LastMessageAt)
	})
	return entries, nil
}

func (a *ThreadListAggregator) label(ctx context.Context, userID string) string {
	if a.profiles == nil {
		return userID
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	name, err := a.profiles.DisplayLabel(ctx, userID)
	if err != nil {
		a.logger.Debug("display label lookup failed", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	if name == "" {
		return userID
	}
	return name
}
