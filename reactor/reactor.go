//go:build linux || darwin

package reactor

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-mqcore/internal/signaler"
	"github.com/joeycumines/logiface"
)

// Reactor multiplexes sockets, OS handles and timers on a single goroutine,
// which also runs submitted tasks.
//
// The sets of sockets, handles and timers are owned by the loop goroutine
// while running. Add and Remove methods may be called from any goroutine: on
// the loop goroutine they apply immediately, from elsewhere they are
// marshaled onto the loop and the caller waits for them to complete. While
// no loop is running they apply immediately.
type Reactor struct {
	// Prevent copying
	_ [0]func()

	logger      *logiface.Logger[logiface.Event]
	limiter     *catrate.Limiter
	wake        *signaler.Signaler
	tasks       *taskQueue
	selector    *Selector
	socketIndex map[Pollable]*socketEntry
	handleIndex map[int]*handleEntry

	// guarded by runMu
	done    chan struct{}
	lastErr error
	fault   error

	name string

	// owned by the holder of owner
	sockets     []*socketEntry
	handles     []*handleEntry
	timers      []*Timer
	items       []PollItem
	itemSockets []*socketEntry
	itemHandles []*handleEntry

	pollTimeout time.Duration
	wakeIndex   int

	// owner is held by a running loop for its lifetime, or briefly by a
	// goroutine mutating the sets while no loop is running
	owner sync.Mutex
	runMu sync.Mutex

	state         fastState
	token         loopToken
	dirty         atomic.Bool
	stopRequested atomic.Bool
}

type socketEntry struct {
	sock   Pollable
	cancel func()
	errors int
}

type handleEntry struct {
	callback func(fd int)
	fd       int
	events   Events
}

// New constructs a Reactor, which must be closed to release its internal
// handles.
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	limiter, err := newLimiter(cfg.errorLogRate)
	if err != nil {
		return nil, err
	}
	wake, err := signaler.New()
	if err != nil {
		return nil, fmt.Errorf("reactor: create wake handle: %w", err)
	}
	name := cfg.name
	if name == "" {
		name = uuid.NewString()
	}
	return &Reactor{
		logger:      cfg.logger,
		limiter:     limiter,
		wake:        wake,
		tasks:       newTaskQueue(),
		selector:    NewSelector(),
		socketIndex: make(map[Pollable]*socketEntry),
		handleIndex: make(map[int]*handleEntry),
		name:        name,
		pollTimeout: cfg.pollTimeout,
	}, nil
}

// Name returns the name used in log output.
func (r *Reactor) Name() string { return r.name }

// State returns the current lifecycle state.
func (r *Reactor) State() State { return r.state.Load() }

// IsRunning reports whether a loop is running, including while starting and
// stopping.
func (r *Reactor) IsRunning() bool { return r.state.IsRunning() }

// Run runs the loop on the calling goroutine, until stopped, ctx is done, or
// the underlying wait fails with a *FaultError. A reactor that faulted may
// not be run again.
func (r *Reactor) Run(ctx context.Context) error {
	return r.run(ctx, nil)
}

// RunAsync runs the loop on a new goroutine, returning once it has started.
// The name, if any, is attached to the goroutine as the pprof label
// "reactor". Use Wait to observe the result.
func (r *Reactor) RunAsync(name string) error {
	started := make(chan error, 1)
	go func() {
		ctx := context.Background()
		if name != "" {
			ctx = pprof.WithLabels(ctx, pprof.Labels("reactor", name))
			pprof.SetGoroutineLabels(ctx)
		}
		_ = r.run(ctx, started)
	}()
	return <-started
}

// Wait blocks until the current or most recent loop has exited, returning
// its result.
func (r *Reactor) Wait() error {
	r.runMu.Lock()
	done := r.done
	r.runMu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.lastErr
}

// Stop requests the loop to exit. From any goroutine other than the loop's,
// it then waits for the loop to exit, including its cleanup. From the loop
// goroutine it only flags the request.
func (r *Reactor) Stop() error {
	if err := r.StopAsync(); err != nil {
		return err
	}
	if r.CanExecuteTaskInline() {
		return nil
	}
	r.runMu.Lock()
	done := r.done
	r.runMu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// StopAsync requests the loop to exit, without waiting.
func (r *Reactor) StopAsync() error {
	switch r.state.Load() {
	case StateDisposed:
		return ErrDisposed
	case StateStarting, StateRunning, StateStopping:
		r.requestStop()
		return nil
	default:
		return ErrNotRunning
	}
}

// Close stops the reactor if it is running, then releases it. Sockets, handles
// and timers are removed, but not closed. Close fails with ErrCloseFromLoop
// on the loop goroutine, and with ErrDisposed if already closed.
func (r *Reactor) Close() error {
	if r.CanExecuteTaskInline() {
		return ErrCloseFromLoop
	}
	for {
		switch r.state.Load() {
		case StateDisposed:
			return ErrDisposed
		case StateStopped:
			if !r.state.TryTransition(StateStopped, StateDisposed) {
				continue
			}
			r.owner.Lock()
			r.clear()
			r.owner.Unlock()
			r.logLifecycle("reactor disposed")
			return r.wake.Close()
		default:
			// may race with the loop exiting on its own
			_ = r.Stop()
		}
	}
}

func (r *Reactor) requestStop() {
	r.stopRequested.Store(true)
	if !r.state.TryTransition(StateRunning, StateStopping) {
		r.state.TryTransition(StateStarting, StateStopping)
	}
	r.wakeup()
}

func (r *Reactor) wakeup() {
	_ = r.wake.Send()
}

func (r *Reactor) markDirty() {
	r.dirty.Store(true)
	r.wakeup()
}

func (r *Reactor) run(ctx context.Context, started chan<- error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.CanExecuteTaskInline() {
		return r.notifyStarted(started, ErrAlreadyRunning)
	}

	r.runMu.Lock()
	if r.fault != nil {
		err = r.fault
	} else if !r.state.TryTransition(StateStopped, StateStarting) {
		if r.state.Load() == StateDisposed {
			err = ErrDisposed
		} else {
			err = ErrAlreadyRunning
		}
	}
	if err != nil {
		r.runMu.Unlock()
		return r.notifyStarted(started, err)
	}
	// a stop that raced with the previous shutdown must not end this run
	r.stopRequested.Store(false)
	done := make(chan struct{})
	r.done = done
	r.lastErr = nil
	r.runMu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.owner.Lock()
	r.token.acquire()
	r.tasks.setAccepting(true)
	r.dirty.Store(true)

	now := timeNow()
	for _, t := range r.timers {
		t.restart(now)
	}

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.requestStop()
		case <-ctxDone:
		}
	}()

	r.state.TryTransition(StateStarting, StateRunning)
	r.logLifecycle("reactor started")
	_ = r.notifyStarted(started, nil)

	err = r.loop()

	close(ctxDone)
	r.shutdown()

	r.runMu.Lock()
	r.lastErr = err
	if err != nil {
		r.fault = err
	}
	r.runMu.Unlock()

	r.state.Store(StateStopped)
	r.logLifecycle("reactor stopped")
	close(done)
	return err
}

func (r *Reactor) notifyStarted(started chan<- error, err error) error {
	if started != nil {
		started <- err
	}
	return err
}

// loop runs iterations until a stop is requested, or the wait faults.
func (r *Reactor) loop() error {
	for !r.stopRequested.Load() {
		if r.dirty.Swap(false) {
			r.rebuild()
		}

		pollStart := timeNow()
		deadline := pollStart.Add(r.pollTimeout)
		for _, t := range r.timers {
			if when, ok := t.next(pollStart); ok && when.Before(deadline) {
				deadline = when
			}
		}
		timeout := deadline.Sub(pollStart)
		if timeout < 0 {
			timeout = 0
		}

		var ready bool
		if len(r.items) != 0 {
			var err error
			ready, err = r.selector.Select(r.items, timeout)
			if err != nil {
				r.logFault(err)
				return err
			}
		} else if timeout > 0 {
			// nothing to multiplex
			time.Sleep(timeout)
		}

		// a wait that timed out may return marginally early
		var expectedEnd time.Time
		if !ready {
			expectedEnd = pollStart.Add(timeout)
		}

		r.fireTimers(expectedEnd)
		r.dispatch()
		r.runTasks()
	}
	return nil
}

func (r *Reactor) fireTimers(expectedEnd time.Time) {
	// removal replaces the slice, so this is a stable snapshot
	for _, t := range r.timers {
		if !t.due(timeNow(), expectedEnd) {
			continue
		}
		if t.fn != nil {
			r.safeExecute("timer", func() { t.fn(t) })
		}
		if slices.Contains(r.timers, t) {
			t.fired(timeNow())
		}
	}
}

func (r *Reactor) dispatch() {
	for i := range r.items {
		item := &r.items[i]

		if i == r.wakeIndex {
			if item.Result != 0 {
				r.wake.Drain()
			}
			continue
		}

		if e := r.itemSockets[i]; e != nil {
			if r.socketIndex[e.sock] != e {
				// removed by an earlier callback
				continue
			}
			events := item.Result
			if events.HasErr() && e.sock.Disposed() {
				// closed while registered, its handle may already be reused
				r.logDisposed(e.sock)
				r.removeSocket(e.sock)
				continue
			}
			if events.HasErr() {
				e.errors++
				if e.errors > 1 {
					r.logEvict(e.sock, e.errors)
					r.removeSocket(e.sock)
					e.sock.ClearError()
					continue
				}
			} else {
				e.errors = 0
			}
			if events != 0 {
				r.safeExecute("socket", func() { e.sock.Dispatch(events) })
			}
			continue
		}

		if h := r.itemHandles[i]; h != nil && item.Result != 0 && r.handleIndex[h.fd] == h {
			r.safeExecute("handle", func() { h.callback(h.fd) })
		}
	}
}

// rebuild recreates the pollset from the current sets.
func (r *Reactor) rebuild() {
	n := len(r.sockets) + len(r.handles) + 1
	r.items = slices.Grow(r.items[:0], n)
	clear(r.itemSockets)
	clear(r.itemHandles)
	r.itemSockets = slices.Grow(r.itemSockets[:0], n)
	r.itemHandles = slices.Grow(r.itemHandles[:0], n)

	for _, e := range r.sockets {
		r.items = append(r.items, PollItem{
			Target:    SocketTarget{Socket: e.sock},
			Requested: e.sock.Interest() | EventErr,
		})
		r.itemSockets = append(r.itemSockets, e)
		r.itemHandles = append(r.itemHandles, nil)
	}

	for _, h := range r.handles {
		r.items = append(r.items, PollItem{
			Target:    HandleTarget{FD: h.fd},
			Requested: h.events | EventErr,
		})
		r.itemSockets = append(r.itemSockets, nil)
		r.itemHandles = append(r.itemHandles, h)
	}

	r.wakeIndex = len(r.items)
	r.items = append(r.items, PollItem{
		Target:    HandleTarget{FD: r.wake.FD()},
		Requested: EventIn,
	})
	r.itemSockets = append(r.itemSockets, nil)
	r.itemHandles = append(r.itemHandles, nil)
}

// shutdown runs any remaining tasks, then removes everything, and releases
// ownership.
func (r *Reactor) shutdown() {
	r.state.Store(StateStopping)
	r.tasks.setAccepting(false)
	r.runTasks()
	r.clear()
	r.token.release()
	r.owner.Unlock()
}

// clear removes every socket, handle and timer. The caller must own the sets.
func (r *Reactor) clear() {
	for _, e := range r.sockets {
		e.cancel()
		delete(r.socketIndex, e.sock)
	}
	r.sockets = nil
	for _, h := range r.handles {
		delete(r.handleIndex, h.fd)
	}
	r.handles = nil
	for _, t := range r.timers {
		t.reset()
	}
	r.timers = nil
	clear(r.itemSockets)
	clear(r.itemHandles)
	r.items = r.items[:0]
	r.itemSockets = r.itemSockets[:0]
	r.itemHandles = r.itemHandles[:0]
	r.dirty.Store(true)
}

// mutate runs fn with ownership of the sets, inline if possible, otherwise
// marshaled onto the running loop.
func (r *Reactor) mutate(fn func() error) error {
	for {
		if r.state.Load() == StateDisposed {
			return ErrDisposed
		}
		if r.token.held() {
			return fn()
		}
		if r.owner.TryLock() {
			if r.state.Load() == StateDisposed {
				r.owner.Unlock()
				return ErrDisposed
			}
			defer r.owner.Unlock()
			return fn()
		}
		done := make(chan error, 1)
		if r.tasks.push(func() { done <- r.call(fn) }) {
			r.wakeup()
			return <-done
		}
		// the loop is exiting, or another goroutine holds the sets briefly
		runtime.Gosched()
	}
}

// AddSocket adds sock to the pollset. Adding a socket twice has no effect.
func (r *Reactor) AddSocket(sock Pollable) error {
	if sock == nil {
		return ErrNilTarget
	}
	if sock.Disposed() {
		return ErrTargetDisposed
	}
	return r.mutate(func() error {
		if _, ok := r.socketIndex[sock]; ok {
			return nil
		}
		e := &socketEntry{sock: sock}
		e.cancel = sock.OnInterestChanged(r.markDirty)
		r.sockets = append(r.sockets, e)
		r.socketIndex[sock] = e
		r.markDirty()
		return nil
	})
}

// RemoveSocket removes sock from the pollset, without closing it. Removing a
// socket that was not added has no effect.
func (r *Reactor) RemoveSocket(sock Pollable) error {
	if sock == nil {
		return ErrNilTarget
	}
	if sock.Disposed() {
		return ErrTargetDisposed
	}
	return r.mutate(func() error {
		if sock.Disposed() {
			return ErrDisposedDuringRemove
		}
		r.removeSocket(sock)
		return nil
	})
}

// ContainsSocket reports whether sock has been added.
func (r *Reactor) ContainsSocket(sock Pollable) bool {
	var ok bool
	_ = r.mutate(func() error {
		_, ok = r.socketIndex[sock]
		return nil
	})
	return ok
}

func (r *Reactor) removeSocket(sock Pollable) {
	e, ok := r.socketIndex[sock]
	if !ok {
		return
	}
	e.cancel()
	delete(r.socketIndex, sock)
	r.sockets = slices.DeleteFunc(r.sockets, func(v *socketEntry) bool { return v == e })
	r.markDirty()
}

// AddHandle polls fd for the given events, calling callback on the loop
// goroutine when any are ready, or on error. Adding a handle again replaces
// its events and callback.
func (r *Reactor) AddHandle(fd int, events Events, callback func(fd int)) error {
	if fd < 0 || callback == nil {
		return ErrNilTarget
	}
	return r.mutate(func() error {
		if h, ok := r.handleIndex[fd]; ok {
			h.events = events
			h.callback = callback
		} else {
			h = &handleEntry{fd: fd, events: events, callback: callback}
			r.handles = append(r.handles, h)
			r.handleIndex[fd] = h
		}
		r.markDirty()
		return nil
	})
}

// RemoveHandle stops polling fd, without closing it.
func (r *Reactor) RemoveHandle(fd int) error {
	return r.mutate(func() error {
		h, ok := r.handleIndex[fd]
		if !ok {
			return nil
		}
		delete(r.handleIndex, fd)
		r.handles = slices.DeleteFunc(r.handles, func(v *handleEntry) bool { return v == h })
		r.markDirty()
		return nil
	})
}

// AddTimer adds t. Adding a timer twice has no effect.
func (r *Reactor) AddTimer(t *Timer) error {
	if t == nil {
		return ErrNilTarget
	}
	return r.mutate(func() error {
		if slices.Contains(r.timers, t) {
			return nil
		}
		r.timers = append(r.timers, t)
		r.wakeup()
		return nil
	})
}

// RemoveTimer removes t, which will not fire again on this reactor.
func (r *Reactor) RemoveTimer(t *Timer) error {
	if t == nil {
		return ErrNilTarget
	}
	return r.mutate(func() error {
		i := slices.Index(r.timers, t)
		if i < 0 {
			return nil
		}
		t.reset()
		// copy, as fireTimers may be iterating
		r.timers = slices.Concat(r.timers[:i], r.timers[i+1:])
		return nil
	})
}
