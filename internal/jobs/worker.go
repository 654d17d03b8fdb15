package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// Worker runs the asynq server that applies receipts.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewClient creates an asynq client from a redis:// URL.
func NewClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewWorker creates a worker applying receipts to st.
func NewWorker(redisURL string, st messenger.Store, concurrency int, logger *zap.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeMarkRead, NewMarkReadHandler(st))
	return &Worker{server: srv, mux: mux, logger: logger}, nil
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("asynq: start worker: %w", err)
	}
	w.logger.Info("receipts worker started")
	return nil
}

// Stop waits for in-flight tasks and shuts the server down.
func (w *Worker) Stop() {
	w.server.Shutdown()
}
