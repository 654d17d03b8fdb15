package messenger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultPageSize is used when history is requested without a page size.
const DefaultPageSize = 50

// MessagePort sends and fetches messages on behalf of the current user.
type MessagePort struct {
	identity Identity
	resolver *ThreadResolver
	store    Store
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMessagePort creates a message port.
func NewMessagePort(identity Identity, resolver *ThreadResolver, store Store, timeout time.Duration, logger *zap.Logger) *MessagePort {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagePort{
		identity: identity,
		resolver: resolver,
		store:    store,
		timeout:  timeout,
		logger:   logger,
	}
}

// Send resolves (or creates) the thread with peer and appends a durable message.
// nonce is the client-generated key echoed back on the durable row.
func (p *MessagePort) Send(ctx context.Context, peer, text, nonce string, tc ThreadContext) (*Message, error) {
	user, err := p.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	threadID, err := p.resolver.ResolveOrCreate(ctx, user.ID, peer, tc)
	if err != nil {
		return nil, err
	}
	return p.insert(ctx, threadID, user.ID, peer, text, nonce)
}

// SendToThread appends a message to a known thread the current user belongs to.
func (p *MessagePort) SendToThread(ctx context.Context, threadID, text, nonce string) (*Message, error) {
	user, err := p.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	t, err := p.thread(ctx, threadID, user.ID)
	if err != nil {
		return nil, err
	}
	return p.insert(ctx, t.ID, user.ID, t.Peer(user.ID), text, nonce)
}

func (p *MessagePort) insert(ctx context.Context, threadID, sender, recipient, text, nonce string) (*Message, error) {
	insertCtx, cancel := context.WithTimeout(ctx, p.timeout)
	msg, err := p.store.InsertMessage(insertCtx, NewMessage{
		ThreadID:    threadID,
		SenderID:    sender,
		RecipientID: recipient,
		Text:        text,
		Nonce:       nonce,
	})
	cancel()
	if err != nil {
		return nil, unavailable("insert message", err)
	}
	if err := p.resolver.Touch(ctx, threadID, msg); err != nil {
		// The message is durable; a stale preview heals on the next send.
		p.logger.Warn("failed to update thread preview", zap.Error(err), zap.String("thread_id", threadID))
	}
	return msg, nil
}

// History returns a page of the conversation with peer in chronological order.
// A pair without a thread has an empty history.
func (p *MessagePort) History(ctx context.Context, peer string, pageSize, offset int) ([]Message, error) {
	user, err := p.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	t, err := p.resolver.Find(ctx, user.ID, peer)
	if errors.Is(err, ErrThreadNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.page(ctx, t.ID, pageSize, offset)
}

// ThreadHistory is History addressed by thread id.
func (p *MessagePort) ThreadHistory(ctx context.Context, threadID string, pageSize, offset int) ([]Message, error) {
	user, err := p.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := p.thread(ctx, threadID, user.ID); err != nil {
		return nil, err
	}
	return p.page(ctx, threadID, pageSize, offset)
}

func (p *MessagePort) page(ctx context.Context, threadID string, pageSize, offset int) ([]Message, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	msgs, err := p.store.QueryMessages(ctx, threadID, pageSize, offset)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	SortChronological(msgs)
	return msgs, nil
}

// thread loads a thread and checks membership. Foreign threads look missing.
func (p *MessagePort) thread(ctx context.Context, threadID, userID string) (*Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	t, err := p.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, unavailable("get thread", err)
	}
	if t == nil || !t.Has(userID) {
		return nil, ErrThreadNotFound
	}
	return t, nil
}
