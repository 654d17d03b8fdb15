// Package feed implements messenger.Feed over the in-process event bus.
package feed

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// subscriptionBuffer is the bus buffer of each handle. A slow consumer
// loses events beyond it; the loss is logged when the handle ends.
const subscriptionBuffer = 256

// Bus delivers rows.<table>.insert events published by the store.
type Bus struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

var _ messenger.Feed = (*Bus)(nil)

type handle struct {
	id       string
	sub      *bus.Subscription
	filter   messenger.FeedFilter
	onInsert func(messenger.Message)
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (h *handle) ID() string { return h.id }

// New creates a feed reading from b.
func New(b *bus.Bus, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{bus: b, logger: logger, handles: make(map[string]*handle)}
}

// Topic returns the bus kind carrying inserts of table.
func Topic(table string) string {
	return "rows." + table + ".insert"
}

// Subscribe starts a goroutine delivering matching inserts to onInsert.
func (f *Bus) Subscribe(table string, filter messenger.FeedFilter, onInsert func(messenger.Message)) (messenger.FeedHandle, error) {
	if table != messenger.MessagesTable {
		return nil, fmt.Errorf("feed: unknown table %q", table)
	}
	if onInsert == nil {
		return nil, fmt.Errorf("feed: nil callback")
	}
	h := &handle{
		id:       uuid.NewString(),
		sub:      f.bus.Subscribe(Topic(table), subscriptionBuffer),
		filter:   filter,
		onInsert: onInsert,
		done:     make(chan struct{}),
	}
	f.mu.Lock()
	f.handles[h.id] = h
	f.mu.Unlock()

	go f.run(h)
	f.logger.Debug("feed subscribed", zap.String("handle", h.id), zap.String("table", table), zap.String("participant", filter.ParticipantID))
	return h, nil
}

func (f *Bus) run(h *handle) {
	defer close(h.done)
	for evt := range h.sub.C {
		m, ok := evt.Payload.(messenger.Message)
		if !ok {
			continue
		}
		if p := h.filter.ParticipantID; p != "" && !m.Involves(p) {
			continue
		}
		h.mu.Lock()
		if !h.closed {
			h.onInsert(m)
		}
		h.mu.Unlock()
	}
}

// Unsubscribe stops h. It is idempotent and must not be called from inside
// h's own callback.
func (f *Bus) Unsubscribe(fh messenger.FeedHandle) {
	if fh == nil {
		return
	}
	f.mu.Lock()
	h, ok := f.handles[fh.ID()]
	delete(f.handles, fh.ID())
	f.mu.Unlock()
	if !ok {
		return
	}
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.sub.Close()
		<-h.done
		if n := h.sub.Dropped(); n > 0 {
			f.logger.Warn("feed handle dropped events", zap.String("handle", h.id), zap.Int64("dropped", n))
		}
	})
}

// Active returns the number of live handles.
func (f *Bus) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Close stops every handle.
func (f *Bus) Close() {
	f.mu.Lock()
	hs := make([]*handle, 0, len(f.handles))
	for _, h := range f.handles {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		f.Unsubscribe(h)
	}
}
