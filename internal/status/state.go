// Package status tracks the link state of a remote realtime feed.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
)

// State represents a feed link state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Closed},
	Connecting:   {Live, Reconnecting, Closed},
	Live:         {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {},
}

// Machine tracks and enforces feed link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	name    string
}

// NewMachine creates a state machine in the Idle state. name identifies
// the link in published events.
func NewMachine(b *bus.Bus, name string) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
		name:    name,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindFeedStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				Link: m.name,
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Link string
	From State
	To   State
}
