package call

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/bus"
)

// State represents a call signaling state.
type State string

const (
	Idle        State = "IDLE"
	Originating State = "ORIGINATING" // acquiring permissions and media for an outgoing call
	Offering    State = "OFFERING"    // offer sent, waiting for the answer
	Ringing     State = "RINGING"     // inbound offer held, waiting for the user
	Accepting   State = "ACCEPTING"   // acquiring permissions and media for an incoming call
	Connecting  State = "CONNECTING"  // descriptions exchanged, ICE in progress
	Active      State = "ACTIVE"
	Terminating State = "TERMINATING"
)

// validTransitions defines allowed state transitions. Active may fall
// back to Connecting during an ICE restart.
var validTransitions = map[State][]State{
	Idle:        {Originating, Ringing},
	Originating: {Offering, Terminating},
	Offering:    {Connecting, Terminating},
	Ringing:     {Accepting, Terminating},
	Accepting:   {Connecting, Terminating},
	Connecting:  {Active, Terminating},
	Active:      {Connecting, Terminating},
	Terminating: {Idle},
}

// Machine tracks and enforces call state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
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
			Kind:      "call.state_changed",
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
}
