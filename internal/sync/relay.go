// Package sync relays message inserts between daemon instances sharing a
// Redis deployment.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// DefaultChannel is the Redis pub/sub channel carrying relayed inserts.
const DefaultChannel = "roomvia:rows:messages"

// envelope is the wire form of one relayed insert.
type envelope struct {
	Origin  string            `json:"origin"`
	Message messenger.Message `json:"message"`
}

// Relay forwards locally inserted message rows to Redis and re-publishes
// rows inserted by other instances on the local bus.
type Relay struct {
	rdb     redis.UniversalClient
	bus     *bus.Bus
	channel string
	origin  string
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewRelay creates a relay. An empty channel selects DefaultChannel.
func NewRelay(rdb redis.UniversalClient, b *bus.Bus, channel string, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		rdb:     rdb,
		bus:     b,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin returns this instance's relay id.
func (r *Relay) Origin() string { return r.origin }

// Start subscribes to the Redis channel and to local inserts.
func (r *Relay) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		r.cancel()
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	sub := r.bus.Subscribe(bus.KindMessageInsert, 256)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer sub.Close()
		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				r.forward(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		defer func() { _ = ps.Close() }()
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.Receive(msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Info("relay started", zap.String("channel", r.channel), zap.String("origin", r.origin))
	return nil
}

// Stop ends both directions and waits for them.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Relay) forward(ctx context.Context, evt bus.Event) {
	payload, ok := r.Encode(evt)
	if !ok {
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", zap.Error(err))
	}
}

// Encode returns the wire form of a local insert event. Events relayed from
// another instance are not forwarded again.
func (r *Relay) Encode(evt bus.Event) ([]byte, bool) {
	if evt.Origin != "" {
		return nil, false
	}
	m, ok := evt.Payload.(messenger.Message)
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(envelope{Origin: r.origin, Message: m})
	if err != nil {
		r.logger.Warn("relay encode failed", zap.Error(err))
		return nil, false
	}
	return data, true
}

// Receive publishes a relayed insert on the local bus unless it came from
// this instance.
func (r *Relay) Receive(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("relay decode failed", zap.Error(err))
		return
	}
	if env.Origin == "" || env.Origin == r.origin {
		return
	}
	r.bus.Publish(bus.Event{
		Kind:      bus.KindMessageInsert,
		Timestamp: time.Now(),
		Payload:   env.Message,
		Origin:    env.Origin,
	})
}
