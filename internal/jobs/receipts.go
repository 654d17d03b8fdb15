// Package jobs defers read-receipt writes to an asynq worker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// TypeMarkRead is the task type applying read receipts.
const TypeMarkRead = "receipts:mark_read"

// Queue is the asynq queue receipts are enqueued on.
const Queue = "receipts"

type markReadPayload struct {
	IDs []string `json:"ids"`
}

// NewMarkReadTask builds a receipts task for ids.
func NewMarkReadTask(ids []string) (*asynq.Task, error) {
	payload, err := json.Marshal(markReadPayload{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encode receipts: %w", err)
	}
	return asynq.NewTask(TypeMarkRead, payload), nil
}

// Enqueuer is the part of *asynq.Client used by Receipts.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Receipts is a messenger.Store whose MarkMessagesRead enqueues a task
// instead of writing inline. Every other call goes to the wrapped store.
type Receipts struct {
	messenger.Store
	client Enqueuer
	logger *zap.Logger
}

var _ messenger.Store = (*Receipts)(nil)

// NewReceipts wraps st.
func NewReceipts(st messenger.Store, client Enqueuer, logger *zap.Logger) *Receipts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receipts{Store: st, client: client, logger: logger}
}

// MarkMessagesRead enqueues the receipts. If the queue is unreachable they
// are written inline.
func (r *Receipts) MarkMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	task, err := NewMarkReadTask(ids)
	if err != nil {
		return err
	}
	info, err := r.client.EnqueueContext(ctx, task, asynq.Queue(Queue), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	if err != nil {
		r.logger.Warn("enqueue receipts failed, writing inline", zap.Int("count", len(ids)), zap.Error(err))
		return r.Store.MarkMessagesRead(ctx, ids)
	}
	r.logger.Debug("receipts enqueued", zap.String("task", info.ID), zap.Int("count", len(ids)))
	return nil
}

// MarkReadHandler applies receipts tasks to a store.
type MarkReadHandler struct {
	store messenger.Store
}

// NewMarkReadHandler creates a handler writing to st.
func NewMarkReadHandler(st messenger.Store) *MarkReadHandler {
	return &MarkReadHandler{store: st}
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *MarkReadHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p markReadPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode receipts: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.store.MarkMessagesRead(ctx, p.IDs); err != nil {
		return fmt.Errorf("apply receipts: %w", err)
	}
	return nil
}
