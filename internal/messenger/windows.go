package messenger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Window is a transient conversation window. Its fields are owned by the
// WindowManager lock; code outside the package sees WindowSnapshot copies.
type Window struct {
	ID          string
	ThreadID    string
	PeerID      string
	DisplayName string
	Context     ThreadContext
	State       VisualState
	OpenedAt    time.Time

	seq    uint64
	buffer *ReconciliationBuffer
	unread int
	sub    *Subscription
}

// WindowSnapshot is an immutable view of a window.
type WindowSnapshot struct {
	ID          string
	ThreadID    string
	PeerID      string
	DisplayName string
	Context     ThreadContext
	State       VisualState
	OpenedAt    time.Time
	Messages    []Message
	UnreadCount int
	Pending     int
}

func (w *Window) snapshot() WindowSnapshot {
	return WindowSnapshot{
		ID:          w.ID,
		ThreadID:    w.ThreadID,
		PeerID:      w.PeerID,
		DisplayName: w.DisplayName,
		Context:     w.Context,
		State:       w.State,
		OpenedAt:    w.OpenedAt,
		Messages:    w.buffer.Messages(),
		UnreadCount: w.unread,
		Pending:     w.buffer.Pending(),
	}
}

// Buffer returns the window's message sequence. Only valid inside WindowManager.With.
func (w *Window) Buffer() *ReconciliationBuffer { return w.buffer }

// SetUnread sets the in-memory unread counter. Only valid inside WindowManager.With.
func (w *Window) SetUnread(n int) { w.unread = n }

// Unread returns the in-memory unread counter. Only valid inside WindowManager.With.
func (w *Window) Unread() int { return w.unread }

// BindThread replaces the temporary id once the thread id is known.
func (w *Window) BindThread(threadID string) {
	if threadID == "" {
		return
	}
	w.ThreadID = threadID
	w.ID = threadID
}

type windowAction string

const (
	actionMinimize windowAction = "minimize"
	actionExpand   windowAction = "expand"
	actionReopen   windowAction = "reopen"
)

// windowTransitions maps action and current state to the next state.
var windowTransitions = map[windowAction]map[VisualState]VisualState{
	actionMinimize: {Normal: Minimized, Expanded: Minimized, Minimized: Normal},
	actionExpand:   {Normal: Expanded, Minimized: Expanded, Expanded: Normal},
	actionReopen:   {Minimized: Normal, Normal: Normal, Expanded: Expanded},
}

// WindowManager owns the open conversation windows of one user session.
// At most one window exists per peer.
type WindowManager struct {
	mu      sync.Mutex
	selfID  string
	windows map[string]*Window
	seq     uint64
	now     func() time.Time
}

// NewWindowManager creates an empty window manager for selfID.
func NewWindowManager(selfID string) *WindowManager {
	return &WindowManager{
		selfID:  selfID,
		windows: make(map[string]*Window),
		now:     time.Now,
	}
}

// Open creates a Normal window for peer, or re-activates the existing one:
// a Minimized window returns to Normal, otherwise nothing changes.
// created reports whether a new window was made.
func (wm *WindowManager) Open(peer, displayName string, tc ThreadContext) (snap WindowSnapshot, created bool) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if w, ok := wm.windows[peer]; ok {
		w.State = windowTransitions[actionReopen][w.State]
		if tc != (ThreadContext{}) && w.Context.IsZero() {
			w.Context = tc
		}
		return w.snapshot(), false
	}

	wm.seq++
	if displayName == "" {
		displayName = peer
	}
	w := &Window{
		ID:          PendingWindowID(wm.selfID, peer),
		PeerID:      peer,
		DisplayName: displayName,
		Context:     tc,
		State:       Normal,
		OpenedAt:    wm.now(),
		seq:         wm.seq,
		buffer:      NewReconciliationBuffer(wm.selfID),
	}
	wm.windows[peer] = w
	return w.snapshot(), true
}

// Minimize toggles between Minimized and Normal; Expanded goes to Minimized.
func (wm *WindowManager) Minimize(peer string) (WindowSnapshot, error) {
	return wm.apply(peer, actionMinimize)
}

// Expand toggles between Expanded and Normal; Minimized goes to Expanded.
func (wm *WindowManager) Expand(peer string) (WindowSnapshot, error) {
	return wm.apply(peer, actionExpand)
}

func (wm *WindowManager) apply(peer string, action windowAction) (WindowSnapshot, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	w, ok := wm.windows[peer]
	if !ok {
		return WindowSnapshot{}, fmt.Errorf("%s %s: %w", action, peer, ErrWindowNotFound)
	}
	w.State = windowTransitions[action][w.State]
	return w.snapshot(), nil
}

// Close removes the window and tears down its feed subscription.
func (wm *WindowManager) Close(peer string) error {
	wm.mu.Lock()
	w, ok := wm.windows[peer]
	if ok {
		delete(wm.windows, peer)
	}
	wm.mu.Unlock()
	if !ok {
		return fmt.Errorf("close %s: %w", peer, ErrWindowNotFound)
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	return nil
}

// CloseAll closes every window.
func (wm *WindowManager) CloseAll() {
	wm.mu.Lock()
	windows := wm.windows
	wm.windows = make(map[string]*Window)
	wm.mu.Unlock()
	for _, w := range windows {
		if w.sub != nil {
			w.sub.Unsubscribe()
		}
	}
}

// Attach hands the window its feed subscription. When the window was closed
// (or replaced) meanwhile, the subscription is torn down and false is returned.
func (wm *WindowManager) Attach(peer string, openedAt time.Time, sub *Subscription) bool {
	wm.mu.Lock()
	w, ok := wm.windows[peer]
	if ok && w.OpenedAt.Equal(openedAt) && w.sub == nil {
		w.sub = sub
		wm.mu.Unlock()
		return true
	}
	wm.mu.Unlock()
	sub.Unsubscribe()
	return false
}

// With runs fn on the peer's window under the manager lock and returns the
// resulting snapshot. fn must not block on I/O.
func (wm *WindowManager) With(peer string, fn func(w *Window)) (WindowSnapshot, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	w, ok := wm.windows[peer]
	if !ok {
		return WindowSnapshot{}, fmt.Errorf("window %s: %w", peer, ErrWindowNotFound)
	}
	fn(w)
	return w.snapshot(), nil
}

// Get returns a snapshot of the peer's window.
func (wm *WindowManager) Get(peer string) (WindowSnapshot, bool) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	w, ok := wm.windows[peer]
	if !ok {
		return WindowSnapshot{}, false
	}
	return w.snapshot(), true
}

// List returns all windows ordered by open time.
func (wm *WindowManager) List() []WindowSnapshot {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.sorted(func(*Window) bool { return true })
}

// Minimized returns the minimized windows in stacking order (open time).
func (wm *WindowManager) Minimized() []WindowSnapshot {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.sorted(func(w *Window) bool { return w.State == Minimized })
}

// Len returns the number of open windows.
func (wm *WindowManager) Len() int {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return len(wm.windows)
}

func (wm *WindowManager) sorted(keep func(*Window) bool) []WindowSnapshot {
	ws := make([]*Window, 0, len(wm.windows))
	for _, w := range wm.windows {
		if keep(w) {
			ws = append(ws, w)
		}
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].seq < ws[j].seq })
	out := make([]WindowSnapshot, len(ws))
	for i, w := range ws {
		out[i] = w.snapshot()
	}
	return out
}
