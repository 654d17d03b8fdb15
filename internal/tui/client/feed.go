package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/backoff"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/status"
)

// connectTimeout bounds one attempt to open a watch stream.
const connectTimeout = 5 * time.Second

// Feed is a messenger.Feed over WatchInserts streams. A dropped stream is
// reopened with exponential backoff; link state is tracked by a status.Machine.
type Feed struct {
	rows    *api.RowsClient
	machine *status.Machine
	logger  *zap.Logger
	backoff backoff.Config

	// OnResume runs after a dropped stream is reopened. Inserts made while
	// the stream was down are not replayed; callers reload instead.
	OnResume func()

	mu      sync.Mutex
	watches map[string]*watch
}

var _ messenger.Feed = (*Feed)(nil)

type watch struct {
	id       string
	filter   messenger.FeedFilter
	onInsert func(messenger.Message)
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func (w *watch) ID() string { return w.id }

// Feed returns a remote feed whose link state is reported to machine.
func (c *Client) Feed(machine *status.Machine, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		rows:    c.Rows,
		machine: machine,
		logger:  logger,
		backoff: backoff.DefaultConfig,
		watches: make(map[string]*watch),
	}
}

// Subscribe opens a watch stream. The first attempt is synchronous so a
// daemon that is down is reported to the caller.
func (f *Feed) Subscribe(table string, filter messenger.FeedFilter, onInsert func(messenger.Message)) (messenger.FeedHandle, error) {
	if table != messenger.MessagesTable {
		return nil, fmt.Errorf("feed: unknown table %q", table)
	}
	if filter.ParticipantID == "" {
		return nil, fmt.Errorf("feed: participant filter required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{
		id:       uuid.NewString(),
		filter:   filter,
		onInsert: onInsert,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	f.transition(status.Connecting)
	stream, stop, err := f.open(ctx, filter)
	if err != nil {
		cancel()
		f.transition(status.Reconnecting)
		return nil, fmt.Errorf("%w: %w", messenger.ErrSubscriptionDropped, err)
	}
	f.transition(status.Live)

	f.mu.Lock()
	f.watches[w.id] = w
	f.mu.Unlock()

	go f.run(ctx, w, stream, stop)
	return w, nil
}

// open starts one watch stream and waits for the server to confirm the
// subscription. The returned cancel ends the stream.
func (f *Feed) open(ctx context.Context, filter messenger.FeedFilter) (api.WatchInsertsClient, context.CancelFunc, error) {
	sctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(connectTimeout, cancel)
	stream, err := f.rows.WatchInserts(sctx, &api.WatchInsertsRequest{ParticipantID: filter.ParticipantID})
	if err == nil {
		_, err = stream.Header()
	}
	if !timer.Stop() && ctx.Err() == nil {
		cancel()
		return nil, nil, fmt.Errorf("watch: no confirmation within %s", connectTimeout)
	}
	if err != nil {
		cancel()
		return nil, nil, api.FromStatus(err)
	}
	return stream, cancel, nil
}

func (f *Feed) run(ctx context.Context, w *watch, stream api.WatchInsertsClient, stop context.CancelFunc) {
	defer close(w.done)
	for {
		err := f.pump(w, stream)
		stop()
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("watch stream dropped", zap.String("watch", w.id), zap.Error(err))
		f.transition(status.Reconnecting)

		stream, stop = f.reconnect(ctx, w)
		if stream == nil {
			return
		}
		f.logger.Info("watch stream resumed", zap.String("watch", w.id))
		if f.OnResume != nil {
			f.OnResume()
		}
	}
}

// pump delivers messages until the stream fails.
func (f *Feed) pump(w *watch, stream api.WatchInsertsClient) error {
	for {
		m, err := stream.Recv()
		if err != nil {
			return err
		}
		w.mu.Lock()
		if !w.closed {
			w.onInsert(m.Domain())
		}
		w.mu.Unlock()
	}
}

// reconnect retries until a stream opens or ctx ends, in which case the
// stream is nil.
func (f *Feed) reconnect(ctx context.Context, w *watch) (api.WatchInsertsClient, context.CancelFunc) {
	for retries := 0; ; retries++ {
		select {
		case <-time.After(f.delay(retries)):
		case <-ctx.Done():
			return nil, nil
		}
		f.transition(status.Connecting)
		stream, stop, err := f.open(ctx, w.filter)
		if err == nil {
			f.transition(status.Live)
			return stream, stop
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		f.logger.Debug("watch reconnect failed", zap.Int("attempt", retries+1), zap.Error(err))
		f.transition(status.Reconnecting)
	}
}

// delay is the backoff before the given retry, following grpc's backoff config.
func (f *Feed) delay(retries int) time.Duration {
	cfg := f.backoff
	d := float64(cfg.BaseDelay)
	for i := 0; i < retries && d < float64(cfg.MaxDelay); i++ {
		d *= cfg.Multiplier
	}
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	d *= 1 + cfg.Jitter*(rand.Float64()*2-1)
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

func (f *Feed) transition(to status.State) {
	if f.machine == nil || f.machine.Current() == to {
		return
	}
	if err := f.machine.Transition(to); err != nil {
		f.logger.Debug("feed status", zap.Error(err))
	}
}

// Unsubscribe ends a watch. No callback runs after it returns.
func (f *Feed) Unsubscribe(h messenger.FeedHandle) {
	if h == nil {
		return
	}
	f.mu.Lock()
	w, ok := f.watches[h.ID()]
	delete(f.watches, h.ID())
	f.mu.Unlock()
	if !ok {
		return
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cancel()
	<-w.done
}

// Close ends every watch and marks the link closed.
func (f *Feed) Close() {
	f.mu.Lock()
	ws := make([]*watch, 0, len(f.watches))
	for _, w := range f.watches {
		ws = append(ws, w)
	}
	f.mu.Unlock()
	for _, w := range ws {
		f.Unsubscribe(w)
	}
	f.transition(status.Closed)
}

// IsDropped reports whether err came from a failed watch subscription.
func IsDropped(err error) bool {
	return errors.Is(err, messenger.ErrSubscriptionDropped)
}
