//go:build linux || darwin

package reactor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/joeycumines/go-mqcore/internal/signaler"
	"github.com/joeycumines/logiface"
)

// testEvent is a minimal logiface.Event implementation, recording fields.
type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }

func (e *testEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

type testEventFactory struct{}

func (testEventFactory) NewEvent(level logiface.Level) *testEvent {
	return &testEvent{level: level}
}

// testEventWriter collects written events.
type testEventWriter struct {
	mu     sync.Mutex
	events []*testEvent
}

func (w *testEventWriter) Write(event *testEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *testEventWriter) byCategory(category string) []*testEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*testEvent
	for _, e := range w.events {
		if e.fields["category"] == category {
			out = append(out, e)
		}
	}
	return out
}

func newTestLogger() (*logiface.Logger[logiface.Event], *testEventWriter) {
	writer := &testEventWriter{}
	typed := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](testEventFactory{}),
		logiface.WithWriter[*testEvent](writer),
		logiface.WithLevel[*testEvent](logiface.LevelDebug),
	)
	return typed.Logger(), writer
}

// testSocket is a Pollable whose readiness is set directly by the test.
type testSocket struct {
	InterestNotifier
	sig        *signaler.Signaler
	onDispatch func(events Events)
	// disposedAfter, if positive, makes Disposed report true from that call
	// onwards
	disposedAfter int32
	disposedCalls atomic.Int32
	cleared       atomic.Int32
	mu            sync.Mutex
	dispatched    []Events
	interest      Events
	ready         Events
	failing       bool
	disposed      bool
}

func newTestSocket(t *testing.T) *testSocket {
	sig, err := signaler.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sig.Close() })
	return &testSocket{sig: sig}
}

func (x *testSocket) FD() int { return x.sig.FD() }

func (x *testSocket) Interest() Events {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.interest
}

func (x *testSocket) Events() Events {
	x.sig.Drain()
	x.mu.Lock()
	defer x.mu.Unlock()
	events := x.ready
	if x.failing {
		events |= EventErr
	}
	return events
}

func (x *testSocket) Dispatch(events Events) {
	x.mu.Lock()
	x.dispatched = append(x.dispatched, events)
	fn := x.onDispatch
	x.mu.Unlock()
	if fn != nil {
		fn(events)
	}
}

func (x *testSocket) ClearError() {
	x.cleared.Add(1)
	x.mu.Lock()
	x.failing = false
	x.mu.Unlock()
}

func (x *testSocket) Disposed() bool {
	n := x.disposedCalls.Add(1)
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.disposed || (x.disposedAfter > 0 && n >= x.disposedAfter)
}

func (x *testSocket) setInterest(events Events) {
	x.mu.Lock()
	x.interest = events
	x.mu.Unlock()
	x.Notify()
}

func (x *testSocket) setReady(events Events) {
	x.mu.Lock()
	x.ready = events
	x.mu.Unlock()
	_ = x.sig.Send()
}

func (x *testSocket) setFailing(failing bool) {
	x.mu.Lock()
	x.failing = failing
	x.mu.Unlock()
	_ = x.sig.Send()
}

func (x *testSocket) dispatches() []Events {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]Events(nil), x.dispatched...)
}

func (x *testSocket) subscribers() int {
	x.InterestNotifier.mu.Lock()
	defer x.InterestNotifier.mu.Unlock()
	return len(x.InterestNotifier.fns)
}
