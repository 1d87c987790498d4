package reactor

import (
	"sync"
)

// Registration is a subscriber list that tracks its own size, calling an
// activate func when the count goes from 0 to 1, and a deactivate func when
// it returns to 0. Sockets use it for their readiness events, so that
// subscribing is what registers interest with a Reactor.
type Registration[T any] struct {
	sender     T
	activate   func()
	deactivate func()
	mu         sync.Mutex
	handlers   []*registrationHandler[T]
}

type registrationHandler[T any] struct {
	fn func(sender T)
}

// NewRegistration constructs a Registration. The activate and deactivate
// funcs may be nil, and are called while holding an internal lock, so they
// must not subscribe or unsubscribe.
func NewRegistration[T any](sender T, activate, deactivate func()) *Registration[T] {
	return &Registration[T]{
		sender:     sender,
		activate:   activate,
		deactivate: deactivate,
	}
}

// Subscribe adds fn, returning a func that removes it. Calling the returned
// func more than once has no further effect.
func (x *Registration[T]) Subscribe(fn func(sender T)) (unsubscribe func()) {
	h := &registrationHandler[T]{fn: fn}
	x.mu.Lock()
	x.handlers = append(x.handlers, h)
	if len(x.handlers) == 1 && x.activate != nil {
		x.activate()
	}
	x.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { x.remove(h) }) }
}

func (x *Registration[T]) remove(h *registrationHandler[T]) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, v := range x.handlers {
		if v == h {
			x.handlers = append(x.handlers[:i:i], x.handlers[i+1:]...)
			if len(x.handlers) == 0 && x.deactivate != nil {
				x.deactivate()
			}
			return
		}
	}
}

// Count returns the number of subscribers.
func (x *Registration[T]) Count() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.handlers)
}

// Active reports whether there is at least one subscriber.
func (x *Registration[T]) Active() bool { return x.Count() != 0 }

// Fire calls every subscriber, in subscription order, without holding the
// lock.
func (x *Registration[T]) Fire() {
	x.mu.Lock()
	handlers := x.handlers
	x.mu.Unlock()
	for _, h := range handlers {
		h.fn(x.sender)
	}
}
