package messenger

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func threadWithUnread(t *testing.T, store *memStore, n int) (string, []string) {
	t.Helper()
	th, err := store.CreateThread(context.Background(), NewThread{UserA: "alice", UserB: "bob", Context: listing42})
	if err != nil {
		t.Fatal(err)
	}
	store.seed(th.ID, "bob", "alice", "reply")
	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, store.seed(th.ID, "alice", "bob", "hello").ID)
	}
	return th.ID, ids
}

func TestUnreadMarkReadExactIDs(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, ids := threadWithUnread(t, store, 3)
	u := NewUnreadTracker(store, "bob", 0, nil)

	n, err := u.UnreadCountFor(ctx, threadID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("UnreadCountFor = %d, want 3", n)
	}

	marked, err := u.MarkRead(ctx, threadID)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 3 {
		t.Errorf("marked = %v, want 3 ids", marked)
	}
	calls := store.marks()
	if len(calls) != 1 {
		t.Fatalf("MarkMessagesRead calls = %d, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0], ids) {
		t.Errorf("marked ids = %v, want %v", calls[0], ids)
	}
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 0 {
		t.Errorf("UnreadCountFor after MarkRead = %d, want 0", n)
	}
}

func TestUnreadMarkReadIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, _ := threadWithUnread(t, store, 2)
	u := NewUnreadTracker(store, "bob", 0, nil)

	for i := 0; i < 3; i++ {
		if _, err := u.MarkRead(ctx, threadID); err != nil {
			t.Fatal(err)
		}
	}
	if calls := store.marks(); len(calls) != 1 {
		t.Errorf("MarkMessagesRead calls = %d, want 1", len(calls))
	}
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 0 {
		t.Errorf("UnreadCountFor = %d, want 0", n)
	}
}

func TestUnreadObserveNoDoubleCount(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, ids := threadWithUnread(t, store, 1)
	u := NewUnreadTracker(store, "bob", 0, nil)

	if _, err := u.MarkRead(ctx, threadID); err != nil {
		t.Fatal(err)
	}
	// Late feed delivery of a message already marked read.
	late := Message{ID: ids[0], ThreadID: threadID, SenderID: "alice", RecipientID: "bob", Text: "hello"}
	if u.Observe(late) {
		t.Error("Observe re-counted a message marked read")
	}

	fresh := store.seed(threadID, "alice", "bob", "again")
	if !u.Observe(fresh) {
		t.Error("Observe did not count a new inbound message")
	}
	if u.Observe(fresh) {
		t.Error("Observe counted the same message twice")
	}
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 1 {
		t.Errorf("UnreadCountFor = %d, want 1", n)
	}
}

func TestUnreadIgnoresOwnMessages(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, _ := threadWithUnread(t, store, 0)
	u := NewUnreadTracker(store, "alice", 0, nil)

	if _, err := u.UnreadCountFor(ctx, threadID); err != nil {
		t.Fatal(err)
	}
	own := Message{ID: "x", ThreadID: threadID, SenderID: "alice", RecipientID: "bob"}
	if u.Observe(own) {
		t.Error("Observe counted an outbound message")
	}
}

func TestUnreadStoreFailure(t *testing.T) {
	store := newMemStore()
	store.setErr(errors.New("timeout"))
	u := NewUnreadTracker(store, "bob", 0, nil)
	_, err := u.MarkRead(context.Background(), "t1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestUnreadObserveDuringSlowReceipt(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, ids := threadWithUnread(t, store, 2)
	u := NewUnreadTracker(store, "bob", 0, nil)
	if _, err := u.UnreadCountFor(ctx, threadID); err != nil {
		t.Fatal(err)
	}

	writing, release := make(chan struct{}), make(chan struct{})
	store.beforeMark = func() {
		close(writing)
		<-release
	}
	done := make(chan []string, 1)
	go func() {
		marked, err := u.MarkRead(ctx, threadID)
		if err != nil {
			t.Error(err)
		}
		done <- marked
	}()
	<-writing

	fresh := store.seed(threadID, "alice", "bob", "are you there?")
	observed := make(chan bool, 1)
	go func() { observed <- u.Observe(fresh) }()
	select {
	case ok := <-observed:
		if !ok {
			t.Error("Observe did not count a message arriving during the receipt write")
		}
	case <-time.After(time.Second):
		t.Fatal("Observe blocked behind the receipt write")
	}

	close(release)
	if marked := <-done; !reflect.DeepEqual(marked, ids) {
		t.Errorf("marked = %v, want %v", marked, ids)
	}
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 1 {
		t.Errorf("UnreadCountFor = %d, want the message that arrived mid-write", n)
	}
}

func TestUnreadObserveDuringSeed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, _ := threadWithUnread(t, store, 1)
	u := NewUnreadTracker(store, "bob", 0, nil)

	querying, release := make(chan struct{}), make(chan struct{})
	store.beforeUnreadIDs = func() {
		close(querying)
		<-release
	}
	counted := make(chan int, 1)
	go func() {
		n, err := u.UnreadCountFor(ctx, threadID)
		if err != nil {
			t.Error(err)
		}
		counted <- n
	}()
	<-querying

	// Delivered by the feed while the seed query is in flight.
	late := Message{ID: "late", ThreadID: threadID, SenderID: "alice", RecipientID: "bob", Text: "hello?"}
	u.Observe(late)
	close(release)

	if n := <-counted; n != 2 {
		t.Errorf("UnreadCountFor = %d, want the seeded row plus the late delivery", n)
	}
}

func TestUnreadReset(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	threadID, _ := threadWithUnread(t, store, 1)
	u := NewUnreadTracker(store, "bob", 0, nil)
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 1 {
		t.Fatalf("UnreadCountFor = %d, want 1", n)
	}

	store.seed(threadID, "alice", "bob", "missed")
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 1 {
		t.Fatalf("cached UnreadCountFor = %d, want 1", n)
	}
	u.Reset()
	if n, _ := u.UnreadCountFor(ctx, threadID); n != 2 {
		t.Errorf("UnreadCountFor after Reset = %d, want 2", n)
	}
	if n, _ := u.TotalUnread(ctx); n != 2 {
		t.Errorf("TotalUnread = %d, want 2", n)
	}
}
