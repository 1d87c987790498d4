//go:build linux || darwin

// Package queue implements Queue, a multi-producer single-consumer queue
// that can be added to a reactor.Reactor, so values produced on any goroutine
// are consumed on the reactor goroutine.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-mqcore/internal/signaler"
	"github.com/joeycumines/go-mqcore/reactor"
)

// ErrClosed is returned by operations on a closed Queue.
var ErrClosed = errors.New("queue: closed")

// Queue is safe for concurrent use. Subscribers of ReceiveReady are notified
// on the reactor goroutine while the queue is non-empty, and are expected to
// drain it with TryDequeue.
type Queue[T any] struct {
	reactor.InterestNotifier
	sig          *signaler.Signaler
	receiveReady *reactor.Registration[*Queue[T]]
	items        *queue.Queue
	// changed is closed and replaced whenever items or closed change
	changed  chan struct{}
	mu       sync.Mutex
	capacity int
	closed   bool
}

var _ reactor.Pollable = (*Queue[struct{}])(nil)

// New constructs a Queue holding at most capacity values, or an unbounded
// queue if capacity is not positive.
func New[T any](capacity int) (*Queue[T], error) {
	sig, err := signaler.New()
	if err != nil {
		return nil, err
	}
	x := &Queue[T]{
		sig:      sig,
		items:    queue.New(),
		changed:  make(chan struct{}),
		capacity: capacity,
	}
	x.receiveReady = reactor.NewRegistration(x, x.Notify, x.Notify)
	return x, nil
}

// ReceiveReady is fired on the reactor goroutine while values are available.
func (x *Queue[T]) ReceiveReady() *reactor.Registration[*Queue[T]] { return x.receiveReady }

// Len returns the number of queued values.
func (x *Queue[T]) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.items.Length()
}

// TryEnqueue adds v without blocking, reporting false if the queue is full
// or closed.
func (x *Queue[T]) TryEnqueue(v T) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.tryEnqueueLocked(v)
}

// Enqueue adds v, waiting while the queue is full.
func (x *Queue[T]) Enqueue(ctx context.Context, v T) error {
	for {
		x.mu.Lock()
		if x.closed {
			x.mu.Unlock()
			return ErrClosed
		}
		if x.tryEnqueueLocked(v) {
			x.mu.Unlock()
			return nil
		}
		changed := x.changed
		x.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (x *Queue[T]) tryEnqueueLocked(v T) bool {
	if x.closed || (x.capacity > 0 && x.items.Length() >= x.capacity) {
		return false
	}
	x.items.Add(v)
	x.broadcastLocked()
	if x.items.Length() == 1 {
		_ = x.sig.Send()
	}
	return true
}

// TryDequeue removes the oldest value without blocking. Values queued before
// Close remain available.
func (x *Queue[T]) TryDequeue() (v T, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.tryDequeueLocked()
}

// Dequeue removes the oldest value, waiting while the queue is empty. It
// fails with ErrClosed once the queue is both closed and empty.
func (x *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		x.mu.Lock()
		if v, ok := x.tryDequeueLocked(); ok {
			x.mu.Unlock()
			return v, nil
		}
		if x.closed {
			x.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		changed := x.changed
		x.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-changed:
		}
	}
}

func (x *Queue[T]) tryDequeueLocked() (v T, ok bool) {
	if x.items.Length() == 0 {
		return v, false
	}
	v = x.items.Remove().(T)
	x.broadcastLocked()
	return v, true
}

func (x *Queue[T]) broadcastLocked() {
	close(x.changed)
	x.changed = make(chan struct{})
}

// Close wakes any blocked callers, and releases the wake handle. A reactor
// the queue is still added to removes it.
func (x *Queue[T]) Close() error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	x.broadcastLocked()
	x.mu.Unlock()
	return x.sig.Close()
}

// FD implements reactor.Pollable.
func (x *Queue[T]) FD() int { return x.sig.FD() }

// Interest implements reactor.Pollable.
func (x *Queue[T]) Interest() reactor.Events {
	if x.receiveReady.Active() {
		return reactor.EventIn
	}
	return 0
}

// Events implements reactor.Pollable. A closed queue reports EventErr.
func (x *Queue[T]) Events() reactor.Events {
	x.sig.Drain()
	x.mu.Lock()
	defer x.mu.Unlock()
	var events reactor.Events
	if x.items.Length() != 0 {
		events |= reactor.EventIn
	}
	if x.closed {
		events |= reactor.EventErr
	}
	return events
}

// Dispatch implements reactor.Pollable.
func (x *Queue[T]) Dispatch(events reactor.Events) {
	if events.HasIn() {
		x.receiveReady.Fire()
	}
}

// ClearError implements reactor.Pollable. A queue has no transport.
func (x *Queue[T]) ClearError() {}

// Disposed implements reactor.Pollable.
func (x *Queue[T]) Disposed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closed
}
