package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds a single store round trip made by the core.
const DefaultRequestTimeout = 10 * time.Second

// ThreadResolver finds or creates the single thread of an unordered user pair.
type ThreadResolver struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewThreadResolver creates a resolver over the store.
func NewThreadResolver(store Store, timeout time.Duration, logger *zap.Logger) *ThreadResolver {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadResolver{store: store, timeout: timeout, logger: logger}
}

// Find returns the thread between a and b, probing both storage orderings.
// Returns ErrThreadNotFound when the pair has none.
func (r *ThreadResolver) Find(ctx context.Context, a, b string) (*Thread, error) {
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		t, err := r.findOrdered(ctx, pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, ErrThreadNotFound
}

func (r *ThreadResolver) findOrdered(ctx context.Context, a, b string) (*Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	t, err := r.store.FindThread(ctx, a, b)
	if err != nil {
		return nil, unavailable("find thread", err)
	}
	return t, nil
}

// ResolveOrCreate returns the id of the thread between current and other,
// creating it with tc when the pair has never talked. A concurrent creation
// that loses the uniqueness race re-reads and returns the winner's id.
func (r *ThreadResolver) ResolveOrCreate(ctx context.Context, current, other string, tc ThreadContext) (string, error) {
	if current == "" {
		return "", ErrUnauthenticated
	}
	if other == "" || other == current {
		return "", ErrSelfConversation
	}
	if !tc.Valid() {
		return "", ErrInvalidContext
	}

	t, err := r.Find(ctx, current, other)
	if err == nil {
		return t.ID, nil
	}
	if !errors.Is(err, ErrThreadNotFound) {
		return "", err
	}

	createCtx, cancel := context.WithTimeout(ctx, r.timeout)
	created, err := r.store.CreateThread(createCtx, NewThread{UserA: current, UserB: other, Context: tc})
	cancel()
	switch {
	case err == nil:
		r.logger.Info("thread created",
			zap.String("thread_id", created.ID),
			zap.String("listing_id", tc.ListingID),
			zap.String("flatmate_id", tc.FlatmateID))
		return created.ID, nil
	case errors.Is(err, ErrDuplicateThread):
		r.logger.Debug("thread created concurrently, re-reading", zap.String("peer", other))
		t, err := r.Find(ctx, current, other)
		if err != nil {
			return "", fmt.Errorf("re-read duplicate thread: %w", err)
		}
		return t.ID, nil
	default:
		return "", unavailable("create thread", err)
	}
}

// Touch stores the denormalized last-message fields after a successful send.
func (r *ThreadResolver) Touch(ctx context.Context, threadID string, m *Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.UpdateThread(ctx, threadID, m.Text, m.CreatedAt); err != nil {
		return unavailable("update thread", err)
	}
	return nil
}
