package status

import (
	"testing"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil, "test")
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Idle, Closed},
		{Connecting, Live},
		{Connecting, Reconnecting},
		{Live, Reconnecting},
		{Live, Closed},
		{Reconnecting, Connecting},
		{Reconnecting, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, "test")
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil, "test")
	if err := m.Transition(Live); err == nil {
		t.Error("Transition(IDLE -> LIVE) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (unchanged)", m.Current())
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m := NewMachine(nil, "test")
	walkTo(t, m, Closed)
	for _, to := range []State{Idle, Connecting, Live, Reconnecting} {
		if err := m.Transition(to); err == nil {
			t.Errorf("Transition(CLOSED -> %s) should fail", to)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("feed.", 10)
	defer sub.Close()

	m := NewMachine(b, "daemon")
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-sub.C
	if evt.Kind != bus.KindFeedStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindFeedStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.Link != "daemon" || change.From != Idle || change.To != Connecting {
		t.Errorf("change = %+v, want daemon IDLE -> CONNECTING", change)
	}
}

// TestReconnectCycle walks a dropped stream back to LIVE:
// LIVE → RECONNECTING → CONNECTING → LIVE
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil, "test")
	walkTo(t, m, Live)

	for _, s := range []State{Reconnecting, Connecting, Live} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Live {
		t.Errorf("final state = %s, want LIVE", m.Current())
	}
}

// TestFailedDialRetries covers a first connection attempt that fails
// before the stream goes live.
func TestFailedDialRetries(t *testing.T) {
	m := NewMachine(nil, "test")
	for _, s := range []State{Connecting, Reconnecting, Connecting, Live} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Live:         {Connecting, Live},
		Reconnecting: {Connecting, Live, Reconnecting},
		Closed:       {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
