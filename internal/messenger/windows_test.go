package messenger

import (
	"errors"
	"testing"
	"time"
)

func TestWindowOpenNeverDuplicates(t *testing.T) {
	wm := NewWindowManager("alice")
	first, created := wm.Open("bob", "Bob", listing42)
	if !created || first.State != Normal {
		t.Fatalf("Open = %+v created=%v, want new Normal window", first, created)
	}
	if _, created := wm.Open("bob", "Bob", ThreadContext{}); created {
		t.Error("second Open created a window")
	}
	if wm.Len() != 1 {
		t.Errorf("Len = %d, want 1", wm.Len())
	}
	if first.ID != PendingWindowID("alice", "bob") {
		t.Errorf("ID = %q, want pending id", first.ID)
	}
}

func TestWindowReopenRestoresMinimized(t *testing.T) {
	wm := NewWindowManager("alice")
	wm.Open("bob", "", ThreadContext{})
	if _, err := wm.Minimize("bob"); err != nil {
		t.Fatal(err)
	}
	snap, created := wm.Open("bob", "", ThreadContext{})
	if created {
		t.Fatal("reopen created a window")
	}
	if snap.State != Normal {
		t.Errorf("state = %s, want normal", snap.State)
	}

	wm.Expand("bob")
	snap, _ = wm.Open("bob", "", ThreadContext{})
	if snap.State != Expanded {
		t.Errorf("reopen of expanded window = %s, want expanded", snap.State)
	}
}

func TestWindowTransitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []func(*WindowManager) (WindowSnapshot, error)
		want  VisualState
	}{
		{"minimize", []func(*WindowManager) (WindowSnapshot, error){minimize}, Minimized},
		{"minimize toggles back", []func(*WindowManager) (WindowSnapshot, error){minimize, minimize}, Normal},
		{"expand", []func(*WindowManager) (WindowSnapshot, error){expand}, Expanded},
		{"expand toggles back", []func(*WindowManager) (WindowSnapshot, error){expand, expand}, Normal},
		{"expanded to minimized", []func(*WindowManager) (WindowSnapshot, error){expand, minimize}, Minimized},
		{"minimized to expanded", []func(*WindowManager) (WindowSnapshot, error){minimize, expand}, Expanded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wm := NewWindowManager("alice")
			wm.Open("bob", "", ThreadContext{})
			var snap WindowSnapshot
			for _, step := range tt.steps {
				var err error
				if snap, err = step(wm); err != nil {
					t.Fatal(err)
				}
			}
			if snap.State != tt.want {
				t.Errorf("state = %s, want %s", snap.State, tt.want)
			}
		})
	}
}

func minimize(wm *WindowManager) (WindowSnapshot, error) { return wm.Minimize("bob") }
func expand(wm *WindowManager) (WindowSnapshot, error) { return wm.Expand("bob") }

func TestWindowMissing(t *testing.T) {
	wm := NewWindowManager("alice")
	if _, err := wm.Minimize("nobody"); !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("Minimize error = %v, want ErrWindowNotFound", err)
	}
	if err := wm.Close("nobody"); !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("Close error = %v, want ErrWindowNotFound", err)
	}
}

func TestWindowMinimizedStackOrder(t *testing.T) {
	wm := NewWindowManager("alice")
	clock := epoch
	wm.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	for _, p := range []string{"carol", "bob", "dave"} {
		wm.Open(p, "", ThreadContext{})
	}
	wm.Minimize("dave")
	wm.Minimize("carol")

	stack := wm.Minimized()
	if len(stack) != 2 {
		t.Fatalf("Minimized = %d windows, want 2", len(stack))
	}
	if stack[0].PeerID != "carol" || stack[1].PeerID != "dave" {
		t.Errorf("stack = %s, %s; want carol, dave", stack[0].PeerID, stack[1].PeerID)
	}
	if all := wm.List(); all[1].PeerID != "bob" {
		t.Errorf("List()[1] = %s, want bob", all[1].PeerID)
	}
}

func TestWindowCloseUnsubscribes(t *testing.T) {
	feed := newMemFeed()
	live := NewLiveFeed(feed, "alice", nil)
	wm := NewWindowManager("alice")

	snap, _ := wm.Open("bob", "", ThreadContext{})
	calls := 0
	sub, err := live.Subscribe("bob", func(Message) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	if !wm.Attach("bob", snap.OpenedAt, sub) {
		t.Fatal("Attach = false")
	}

	feed.emit(Message{ID: "m1", SenderID: "bob", RecipientID: "alice"})
	if err := wm.Close("bob"); err != nil {
		t.Fatal(err)
	}
	feed.emit(Message{ID: "m2", SenderID: "bob", RecipientID: "alice"})

	if calls != 1 {
		t.Errorf("callbacks = %d, want 1", calls)
	}
	if live.Active() != 0 || feed.active() != 0 {
		t.Errorf("active subscriptions = %d logical, %d transport; want 0", live.Active(), feed.active())
	}
}

func TestWindowAttachAfterClose(t *testing.T) {
	feed := newMemFeed()
	live := NewLiveFeed(feed, "alice", nil)
	wm := NewWindowManager("alice")

	snap, _ := wm.Open("bob", "", ThreadContext{})
	sub, _ := live.Subscribe("bob", func(Message) {})
	wm.Close("bob")

	if wm.Attach("bob", snap.OpenedAt, sub) {
		t.Error("Attach to a closed window = true")
	}
	if live.Active() != 0 {
		t.Errorf("Active = %d, want 0", live.Active())
	}
}
