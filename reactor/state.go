package reactor

import (
	"sync/atomic"
)

// State is the lifecycle state of a Reactor.
//
//	StateStopped  → StateStarting  [Run]
//	StateStarting → StateRunning   [first iteration]
//	StateStarting → StateStopping  [Stop before first iteration]
//	StateRunning  → StateStopping  [Stop, StopAsync, context done, fault]
//	StateStopping → StateStopped   [cleanup complete]
//	StateStopped  → StateDisposed  [Close]
//	StateDisposed → (terminal)
type State uint32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateDisposed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state holder, padded to its own cache line.
type fastState struct { // betteralign:ignore
	_ [64]byte //nolint:unused
	v atomic.Uint32
	_ [60]byte //nolint:unused
}

func (s *fastState) Load() State { return State(s.v.Load()) }

// Store is only valid for transitions owned by a single goroutine, all
// others must use TryTransition.
func (s *fastState) Store(state State) { s.v.Store(uint32(state)) }

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// IsRunning reports whether a loop owns the reactor.
func (s *fastState) IsRunning() bool {
	switch s.Load() {
	case StateStarting, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}
