// Package reactor implements a single goroutine event loop, multiplexing
// message sockets, raw OS handles, and timers, that doubles as a task
// scheduler.
//
// # Usage
//
//	r, err := reactor.New(reactor.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	_ = r.AddTimer(reactor.NewTimer(50*time.Millisecond, func(t *reactor.Timer) {
//		// runs on the reactor goroutine
//	}))
//	_ = r.AddSocket(sock)
//
//	if err := r.RunAsync("worker"); err != nil {
//		return err
//	}
//	...
//	_ = r.Stop()
//
// # Iteration
//
// Each iteration rebuilds the pollset if an Add, Remove or change of
// interest marked it dirty, computes a timeout from the earliest timer
// (bounded by WithPollTimeout), waits via [Selector.Select], fires due
// timers, dispatches ready sockets and handles, then runs submitted tasks.
// Tasks are run once more after a stop is requested, and on exit every
// socket, handle and timer is removed, but not closed.
//
// A socket reporting EventErr on two consecutive iterations is removed.
//
// # Goroutine affinity
//
// Callbacks must not block waiting on the reactor. The exceptions are the
// Add and Remove methods, and Invoke, which detect that they are running on
// the loop goroutine and apply inline. Close and the waiting half of Stop
// cannot be used from the loop goroutine.
package reactor
