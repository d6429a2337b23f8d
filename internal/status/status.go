package status

import (
	"fmt"
	"slices"
	"sync"
)

// Status is a session lifecycle status. The persisted session row always
// carries one of these values.
type Status string

const (
	Initializing  Status = "initializing"
	Authenticated Status = "authenticated"
	Connected     Status = "connected"
	Disconnected  Status = "disconnected"
)

// validTransitions defines allowed status transitions. A drop to
// Disconnected is reachable from every status; a fresh adapter on a
// previously authenticated credential may jump straight to Connected.
var validTransitions = map[Status][]Status{
	Initializing:  {Authenticated, Connected, Disconnected},
	Authenticated: {Connected, Disconnected},
	Connected:     {Disconnected},
	Disconnected:  {Initializing, Authenticated, Connected},
}

// Valid reports whether s is a known session status.
func Valid(s Status) bool {
	switch s {
	case Initializing, Authenticated, Connected, Disconnected:
		return true
	}
	return false
}

// Machine tracks and enforces lifecycle transitions for one live adapter.
type Machine struct {
	mu      sync.RWMutex
	current Status
}

// NewMachine creates a machine starting in Initializing.
func NewMachine() *Machine {
	return &Machine{current: Initializing}
}

// Current returns the current status.
func (m *Machine) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new status. Returns an error if the
// transition is invalid; the current status is unchanged in that case.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}
