//go:build linux || darwin

package reactor

import (
	"sync"

	"github.com/eapache/queue"
)

// taskQueue is the multi-producer queue of work for the reactor goroutine.
// It only accepts tasks while a loop is running, and every accepted task is
// guaranteed to run, since the loop drains the queue once more after it
// stops accepting.
type taskQueue struct {
	mu        sync.Mutex
	q         *queue.Queue
	batch     []func()
	accepting bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

// push enqueues fn, reporting false if the queue is not accepting.
func (x *taskQueue) push(fn func()) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.accepting {
		return false
	}
	x.q.Add(fn)
	return true
}

func (x *taskQueue) setAccepting(accepting bool) {
	x.mu.Lock()
	x.accepting = accepting
	x.mu.Unlock()
}

// take removes every queued task. The returned slice is reused by the next
// call, and must only be used by the loop goroutine.
func (x *taskQueue) take() []func() {
	x.mu.Lock()
	defer x.mu.Unlock()
	clear(x.batch)
	x.batch = x.batch[:0]
	for x.q.Length() > 0 {
		x.batch = append(x.batch, x.q.Remove().(func()))
	}
	return x.batch
}

// Submit enqueues task to run on the reactor goroutine, during the current
// or next iteration. It fails with ErrNotRunning while no loop is running.
// Tasks submitted before a stop completes still run.
func (r *Reactor) Submit(task func()) error {
	if task == nil {
		return ErrNilTarget
	}
	if r.state.Load() == StateDisposed {
		return ErrDisposed
	}
	if !r.tasks.push(task) {
		return ErrNotRunning
	}
	r.wakeup()
	return nil
}

// Invoke runs task on the reactor goroutine, and waits for it to complete. If
// called from the reactor goroutine, the task runs inline. A panicking task
// is returned as a PanicError.
func (r *Reactor) Invoke(task func() error) error {
	if task == nil {
		return ErrNilTarget
	}
	if r.CanExecuteTaskInline() {
		return r.call(task)
	}
	done := make(chan error, 1)
	if err := r.Submit(func() { done <- r.call(task) }); err != nil {
		return err
	}
	return <-done
}

// CanExecuteTaskInline reports whether the caller is running on the reactor
// goroutine, in which case work may run inline rather than being submitted.
func (r *Reactor) CanExecuteTaskInline() bool {
	return r.token.held()
}

// runTasks executes every queued task.
func (r *Reactor) runTasks() {
	for _, task := range r.tasks.take() {
		r.safeExecute("task", task)
	}
}

// call runs fn, converting a panic into a PanicError.
func (r *Reactor) call(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = PanicError{Value: v}
		}
	}()
	return fn()
}

// safeExecute runs fn, logging and recovering from any panic.
func (r *Reactor) safeExecute(where string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.logPanic(where, v)
		}
	}()
	fn()
}
