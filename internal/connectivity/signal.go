// Package connectivity provides the online/visibility signal consumed by the sync processor.
package connectivity

import "sync"

// Event is an edge-triggered connectivity or visibility change.
type Event string

const (
	EventCameOnline    Event = "came_online"
	EventWentOffline   Event = "went_offline"
	EventBecameVisible Event = "became_visible"
)

// Signal is the read-only view of the host environment.
type Signal interface {
	Online() bool
	Events() <-chan Event
}

// Switch is a Signal driven by the host: a probe, a platform callback, or a test.
type Switch struct {
	mu     sync.Mutex
	online bool
	events chan Event
}

// NewSwitch constructs a Switch with the given initial state.
func NewSwitch(online bool) *Switch {
	return &Switch{
		online: online,
		events: make(chan Event, 16),
	}
}

// Online reports the current connectivity.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Events returns the event stream. Events are dropped when nobody keeps up.
func (s *Switch) Events() <-chan Event {
	return s.events
}

// SetOnline updates connectivity and emits an event on every transition.
func (s *Switch) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if !changed {
		return
	}
	if online {
		s.emit(EventCameOnline)
	} else {
		s.emit(EventWentOffline)
	}
}

// Foreground signals that the application became visible.
func (s *Switch) Foreground() {
	s.emit(EventBecameVisible)
}

func (s *Switch) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}
