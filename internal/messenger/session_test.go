package messenger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
)

type harness struct {
	store    *memStore
	feed     *memFeed
	bus      *bus.Bus
	pageSize int
}

func newHarness() *harness {
	return &harness{store: newMemStore(), feed: newMemFeed(), bus: bus.New()}
}

func (h *harness) session(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), SessionConfig{
		Identity: identityOf(userID),
		Store:    h.store,
		Feed:     h.feed,
		Profiles: fakeProfiles{"alice": "Alice", "bob": "Bob"},
		Bus:      h.bus,
		PageSize: h.pageSize,
	})
	if err != nil {
		t.Fatalf("NewSession(%s) error = %v", userID, err)
	}
	t.Cleanup(s.Close)
	return s
}

func windowEvents(t *testing.T, sub *bus.Subscription) []WindowSnapshot {
	t.Helper()
	var out []WindowSnapshot
	for {
		select {
		case evt := <-sub.C:
			if we, ok := evt.Payload.(WindowEvent); ok && evt.Kind == bus.KindWindowUpdated {
				out = append(out, we.Window)
			}
		default:
			return out
		}
	}
}

func TestSessionUnauthenticated(t *testing.T) {
	_, err := NewSession(context.Background(), SessionConfig{
		Identity: fakeIdentity{},
		Store:    newMemStore(),
		Feed:     newMemFeed(),
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestSessionSendHi(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	s := h.session(t, "alice")
	events := h.bus.Subscribe("window.", 64)
	defer events.Close()

	snap, err := s.OpenConversation(ctx, "bob", listing42)
	if err != nil {
		t.Fatal(err)
	}
	if snap.DisplayName != "Bob" {
		t.Errorf("DisplayName = %q, want Bob", snap.DisplayName)
	}

	msg, err := s.Send(ctx, "bob", "Hi")
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}

	var sawEcho bool
	for _, w := range windowEvents(t, events) {
		if len(w.Messages) == 1 && w.Messages[0].Pending && w.Messages[0].Text == "Hi" {
			sawEcho = true
			break
		}
	}
	if !sawEcho {
		t.Error("no optimistic echo was published before the durable row")
	}

	h.feed.emit(*msg)
	s.wg.Wait()

	got, _ := s.Windows().Get("bob")
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(got.Messages))
	}
	if got.Messages[0].ID != msg.ID || got.Messages[0].Pending {
		t.Errorf("message = %+v, want durable %s", got.Messages[0], msg.ID)
	}
	if got.ThreadID != msg.ThreadID || got.ID != msg.ThreadID {
		t.Errorf("window bound to %q, want %q", got.ThreadID, msg.ThreadID)
	}
}

func TestSessionFeedReconcilesBeforeSendReturns(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	s := h.session(t, "alice")
	if _, err := s.OpenConversation(ctx, "bob", listing42); err != nil {
		t.Fatal(err)
	}

	var viaFeed WindowSnapshot
	h.store.afterInsert = func(m Message) {
		h.feed.emit(m)
		viaFeed, _ = s.Windows().Get("bob")
	}
	msg, err := s.Send(ctx, "bob", "Hi")
	if err != nil {
		t.Fatal(err)
	}

	if len(viaFeed.Messages) != 1 || viaFeed.Messages[0].ID != msg.ID || viaFeed.Messages[0].Pending {
		t.Fatalf("window after feed delivery = %+v, want the echo replaced by %s", viaFeed.Messages, msg.ID)
	}
	if viaFeed.Pending != 0 {
		t.Errorf("pending after feed delivery = %d, want 0", viaFeed.Pending)
	}
	got, _ := s.Windows().Get("bob")
	if len(got.Messages) != 1 || got.Messages[0].ID != msg.ID {
		t.Errorf("window after Send = %+v, want one durable message", got.Messages)
	}
}

func TestSessionLoadOlderPagesBackwards(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.pageSize = 2
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		h.store.seed(th.ID, "bob", "alice", text)
	}
	s := h.session(t, "alice")

	snap, err := s.OpenConversation(ctx, "bob", ThreadContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got := texts(snap.Messages); got != "de" {
		t.Fatalf("first page = %q, want de", got)
	}

	for _, want := range []int{2, 1, 0} {
		n, err := s.LoadOlder(ctx, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("LoadOlder = %d, want %d", n, want)
		}
	}
	got, _ := s.Windows().Get("bob")
	if texts(got.Messages) != "abcde" {
		t.Errorf("window = %q, want abcde", texts(got.Messages))
	}

	if _, err := s.LoadOlder(ctx, "carol"); !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("LoadOlder without window error = %v, want ErrWindowNotFound", err)
	}
}

func TestSessionLoadOlderSkipsPendingEcho(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.pageSize = 2
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})
	for _, text := range []string{"a", "b", "c"} {
		h.store.seed(th.ID, "bob", "alice", text)
	}
	s := h.session(t, "alice")
	if _, err := s.OpenConversation(ctx, "bob", ThreadContext{}); err != nil {
		t.Fatal(err)
	}

	// Hold the send in the store so its echo stays pending.
	entered, release := make(chan struct{}), make(chan struct{})
	h.store.beforeInsert = func() {
		close(entered)
		<-release
	}
	sent := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "bob", "f")
		sent <- err
	}()
	<-entered

	n, err := s.LoadOlder(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("LoadOlder with a pending echo = %d, want 1", n)
	}
	close(release)
	if err := <-sent; err != nil {
		t.Fatal(err)
	}
	got, _ := s.Windows().Get("bob")
	if texts(got.Messages) != "abcf" || got.Pending != 0 {
		t.Errorf("window = %q pending %d, want abcf and none pending", texts(got.Messages), got.Pending)
	}
}

func texts(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Text)
	}
	return b.String()
}

func TestSessionResyncReseedsUnread(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})
	h.store.seed(th.ID, "alice", "bob", "hey")

	s := h.session(t, "bob")
	if _, err := s.OpenConversation(ctx, "alice", ThreadContext{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Minimize(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	// Rows written while the feed was down never reach Observe.
	h.store.seed(th.ID, "alice", "bob", "missed 1")
	h.store.seed(th.ID, "alice", "bob", "missed 2")
	if n, _ := s.TotalUnread(ctx); n != 2 {
		t.Fatalf("TotalUnread = %d, want 2", n)
	}
	if got, _ := s.Windows().Get("alice"); got.UnreadCount != 0 {
		t.Fatalf("unread before resync = %d, want the stale 0", got.UnreadCount)
	}

	if err := s.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Windows().Get("alice")
	if got.UnreadCount != 2 || texts(got.Messages) != "heymissed 1missed 2" {
		t.Errorf("after resync unread = %d messages = %q", got.UnreadCount, texts(got.Messages))
	}

	if _, err := s.Minimize(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.TotalUnread(ctx); n != 0 {
		t.Errorf("TotalUnread after restoring the window = %d, want 0", n)
	}
}

func TestSessionSendFailureRestoresDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	s := h.session(t, "alice")
	failed := h.bus.Subscribe(bus.KindSendFailed, 4)
	defer failed.Close()

	if _, err := s.OpenConversation(ctx, "bob", listing42); err != nil {
		t.Fatal(err)
	}
	h.store.insertErr = errors.New("database is locked")

	_, err := s.Send(ctx, "bob", "Hello there")
	var serr *SendError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *SendError", err)
	}
	if serr.Draft != "Hello there" {
		t.Errorf("Draft = %q, want the original text", serr.Draft)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}

	got, _ := s.Windows().Get("bob")
	if len(got.Messages) != 0 {
		t.Errorf("messages = %+v, want none", got.Messages)
	}
	select {
	case evt := <-failed.C:
		if p := evt.Payload.(SendFailed); p.Draft != "Hello there" {
			t.Errorf("send.failed draft = %q", p.Draft)
		}
	default:
		t.Error("no send.failed event")
	}
}

func TestSessionOpenMarksUnreadRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})
	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, h.store.seed(th.ID, "alice", "bob", "hey").ID)
	}

	s := h.session(t, "bob")
	events := h.bus.Subscribe("window.", 64)
	defer events.Close()

	snap, err := s.OpenConversation(ctx, "alice", ThreadContext{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", snap.UnreadCount)
	}
	if len(snap.Messages) != 3 {
		t.Errorf("messages = %d, want 3", len(snap.Messages))
	}

	counts := []int{}
	for _, w := range windowEvents(t, events) {
		counts = append(counts, w.UnreadCount)
	}
	if len(counts) < 2 || counts[0] != 3 || counts[len(counts)-1] != 0 {
		t.Errorf("unread transitions = %v, want 3 then 0", counts)
	}

	marks := h.store.marks()
	if len(marks) != 1 {
		t.Fatalf("MarkMessagesRead calls = %d, want 1", len(marks))
	}
	if len(marks[0]) != 3 {
		t.Fatalf("marked %v, want %v", marks[0], want)
	}
	for i := range want {
		if marks[0][i] != want[i] {
			t.Errorf("marked %v, want %v", marks[0], want)
			break
		}
	}
}

func TestSessionMinimizedWindowKeepsUnread(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})

	s := h.session(t, "bob")
	if _, err := s.OpenConversation(ctx, "alice", ThreadContext{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Minimize(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	m := h.store.seed(th.ID, "alice", "bob", "are you there?")
	h.feed.emit(m)
	h.feed.emit(m)
	s.wg.Wait()

	snap, _ := s.Windows().Get("alice")
	if snap.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", snap.UnreadCount)
	}
	if marks := h.store.marks(); len(marks) != 0 {
		t.Errorf("minimized window issued read receipts: %v", marks)
	}

	snap, err := s.Minimize(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != Normal || snap.UnreadCount != 0 {
		t.Errorf("after restore state = %s unread = %d, want normal and 0", snap.State, snap.UnreadCount)
	}
	if marks := h.store.marks(); len(marks) != 1 || marks[0][0] != m.ID {
		t.Errorf("read receipts = %v, want [[%s]]", marks, m.ID)
	}
}

func TestSessionForegroundDeliveryMarksRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})

	s := h.session(t, "bob")
	if _, err := s.OpenConversation(ctx, "alice", ThreadContext{}); err != nil {
		t.Fatal(err)
	}
	m := h.store.seed(th.ID, "alice", "bob", "ping")
	h.feed.emit(m)
	s.wg.Wait()

	snap, _ := s.Windows().Get("alice")
	if snap.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", snap.UnreadCount)
	}
	if len(snap.Messages) != 1 || !snap.Messages[0].IsRead {
		t.Errorf("messages = %+v, want one read message", snap.Messages)
	}
}

func TestSessionSendAfterCloseIsDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	s := h.session(t, "alice")
	if _, err := s.OpenConversation(ctx, "bob", listing42); err != nil {
		t.Fatal(err)
	}
	h.store.beforeInsert = func() { s.CloseWindow("bob") }

	msg, err := s.Send(ctx, "bob", "bye")
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if msg == nil || msg.Text != "bye" {
		t.Fatalf("Send = %+v, want the durable row", msg)
	}
	if _, ok := s.Windows().Get("bob"); ok {
		t.Error("closed window came back")
	}
	if n := h.feed.active(); n != 1 {
		t.Errorf("transport subscriptions = %d, want only the sidebar watch", n)
	}
}

func TestSessionSendWithoutWindow(t *testing.T) {
	h := newHarness()
	s := h.session(t, "alice")
	_, err := s.Send(context.Background(), "bob", "hi")
	if !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("error = %v, want ErrWindowNotFound", err)
	}
}

func TestSessionReopenDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	s := h.session(t, "alice")
	s.OpenConversation(ctx, "bob", listing42)
	s.Minimize(ctx, "bob")
	snap, err := s.OpenConversation(ctx, "bob", listing42)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != Normal {
		t.Errorf("state = %s, want normal", snap.State)
	}
	if s.Windows().Len() != 1 {
		t.Errorf("windows = %d, want 1", s.Windows().Len())
	}
	// Sidebar watch plus one window share the transport.
	if h.feed.opens != 1 {
		t.Errorf("transport opens = %d, want 1", h.feed.opens)
	}
}

func TestSessionCloseStopsCallbacks(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	th, _ := h.store.CreateThread(ctx, NewThread{UserA: "alice", UserB: "bob", Context: listing42})
	s := h.session(t, "bob")
	s.OpenConversation(ctx, "alice", ThreadContext{})

	closed := h.bus.Subscribe(bus.KindWindowClosed, 1)
	defer closed.Close()
	if err := s.CloseWindow("alice"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-closed.C:
	case <-time.After(time.Second):
		t.Fatal("no window.closed event")
	}

	updates := h.bus.Subscribe(bus.KindWindowUpdated, 8)
	defer updates.Close()
	h.feed.emit(h.store.seed(th.ID, "alice", "bob", "late"))
	s.wg.Wait()
	if evts := windowEvents(t, updates); len(evts) != 0 {
		t.Errorf("window updates after close = %d, want 0", len(evts))
	}
}
