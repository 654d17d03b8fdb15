package sync

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

func insertEvent(m messenger.Message) bus.Event {
	return bus.Event{Kind: bus.KindMessageInsert, Timestamp: time.Now(), Payload: m}
}

func TestRelayRoundTripBetweenInstances(t *testing.T) {
	busA, busB := bus.New(), bus.New()
	a := NewRelay(nil, busA, "", nil)
	b := NewRelay(nil, busB, "", nil)

	sub := busB.Subscribe(bus.KindMessageInsert, 4)
	defer sub.Close()

	sent := messenger.Message{
		ID: "m1", ThreadID: "t1", SenderID: "alice", RecipientID: "bob",
		Text: "Hi", Nonce: "n1", CreatedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	payload, ok := a.Encode(insertEvent(sent))
	if !ok {
		t.Fatal("Encode of a local insert returned false")
	}
	b.Receive(string(payload))

	select {
	case evt := <-sub.C:
		if evt.Origin != a.Origin() {
			t.Errorf("origin = %q, want %q", evt.Origin, a.Origin())
		}
		got, ok := evt.Payload.(messenger.Message)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if got.ID != sent.ID || got.Nonce != "n1" || !got.CreatedAt.Equal(sent.CreatedAt) {
			t.Errorf("relayed = %+v, want %+v", got, sent)
		}
		// Relayed events are not forwarded again.
		if _, ok := b.Encode(evt); ok {
			t.Error("Encode of a relayed event should return false")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for relayed insert")
	}
}

func TestRelayIgnoresOwnEcho(t *testing.T) {
	b := bus.New()
	r := NewRelay(nil, b, "", nil)
	sub := b.Subscribe(bus.KindMessageInsert, 4)
	defer sub.Close()

	payload, ok := r.Encode(insertEvent(messenger.Message{ID: "m1"}))
	if !ok {
		t.Fatal("Encode returned false")
	}
	r.Receive(string(payload))
	r.Receive("not json")

	select {
	case evt := <-sub.C:
		t.Errorf("unexpected event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayEncodeSkipsForeignPayloads(t *testing.T) {
	r := NewRelay(nil, bus.New(), "", nil)
	if _, ok := r.Encode(bus.Event{Kind: bus.KindMessageInsert, Payload: "x"}); ok {
		t.Error("Encode of a non-message payload should return false")
	}
}

func TestRelayOverRedis(t *testing.T) {
	url := os.Getenv("ROOMVIA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ROOMVIA_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	channel := "roomvia:test:" + time.Now().Format("150405.000000")
	busA, busB := bus.New(), bus.New()
	a := NewRelay(rdb, busA, channel, nil)
	b := NewRelay(rdb, busB, channel, nil)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	sub := busB.Subscribe(bus.KindMessageInsert, 4)
	defer sub.Close()
	busA.Publish(insertEvent(messenger.Message{ID: "m1", SenderID: "alice", RecipientID: "bob"}))

	select {
	case evt := <-sub.C:
		if m := evt.Payload.(messenger.Message); m.ID != "m1" {
			t.Errorf("relayed id = %s, want m1", m.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for relayed insert")
	}
}
