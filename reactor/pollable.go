package reactor

import (
	"sync"
)

type (
	// Pollable is anything a Reactor can multiplex, typically a message
	// socket. Readiness is computed from internal state rather than from the
	// raw readiness of an OS handle, since a socket may hold frames that have
	// already been received.
	//
	// All methods must be safe to call from any goroutine.
	Pollable interface {
		// FD returns a handle that becomes readable whenever the result of
		// Events may have changed.
		FD() int

		// Interest returns the events that currently have subscribers.
		Interest() Events

		// Events drains any pending notification on FD, then computes the
		// current readiness, including EventErr for a pending transport
		// error. The drain must happen first, so a concurrent state change
		// is never lost.
		Events() Events

		// Dispatch is called on the reactor goroutine, with the realized
		// events masked by the requested events.
		Dispatch(events Events)

		// ClearError clears any pending transport error.
		ClearError()

		// Disposed reports whether the pollable has been closed.
		Disposed() bool

		// OnInterestChanged registers fn to be called whenever Interest
		// changes, returning a func that removes the registration.
		OnInterestChanged(fn func()) (cancel func())
	}

	// InterestNotifier implements Pollable.OnInterestChanged. The zero value
	// is ready to use.
	InterestNotifier struct {
		mu   sync.Mutex
		fns  map[uint64]func()
		next uint64
	}
)

// OnInterestChanged registers fn, see Pollable.
func (x *InterestNotifier) OnInterestChanged(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fns == nil {
		x.fns = make(map[uint64]func())
	}
	id := x.next
	x.next++
	x.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			x.mu.Lock()
			delete(x.fns, id)
			x.mu.Unlock()
		})
	}
}

// Notify calls every registered func.
func (x *InterestNotifier) Notify() {
	x.mu.Lock()
	fns := make([]func(), 0, len(x.fns))
	for _, fn := range x.fns {
		fns = append(fns, fn)
	}
	x.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
