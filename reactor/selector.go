//go:build linux || darwin

package reactor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// unixPoll is replaced in tests.
var unixPoll = unix.Poll

// Selector waits for readiness across a set of PollItem values. It holds a
// reusable buffer, and is not safe for concurrent use.
type Selector struct {
	fds []unix.PollFd
}

// NewSelector constructs a Selector.
func NewSelector() *Selector { return &Selector{} }

// Select populates the Result of each item, returning true if any item is
// ready. A negative timeout waits until an item is ready, zero performs a
// single non-blocking check, and a positive timeout is an upper bound.
//
// The first pass always uses a zero wait. Socket items report the socket's
// computed Events, masked by Requested, on every pass, so buffered frames
// are observed without waiting for their handle. EINTR is retried. Any other
// failure returns a *FaultError.
func (x *Selector) Select(items []PollItem, timeout time.Duration) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}

	x.fds = x.fds[:0]
	for _, item := range items {
		var events int16
		switch target := item.Target.(type) {
		case SocketTarget:
			events = unix.POLLIN
		case HandleTarget:
			if item.Requested.HasIn() {
				events |= unix.POLLIN
			}
			if item.Requested.HasOut() {
				events |= unix.POLLOUT
			}
		default:
			return false, fmt.Errorf("reactor: invalid poll target %T", target)
		}
		x.fds = append(x.fds, unix.PollFd{Fd: int32(item.Target.fd()), Events: events})
	}

	start := time.Now()
	firstPass := true
	for {
		var waitMillis int
		switch {
		case firstPass:
			waitMillis = 0
		case timeout < 0:
			waitMillis = -1
		default:
			waitMillis = durationToMillis(timeout - time.Since(start))
		}

		for i := range x.fds {
			x.fds[i].Revents = 0
		}
		if _, err := unixPoll(x.fds, waitMillis); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, &FaultError{Err: err, Op: "poll", Handles: x.describe(items)}
		}

		var ready int
		for i := range items {
			item := &items[i]
			item.Result = 0
			switch target := item.Target.(type) {
			case SocketTarget:
				item.Result = target.Socket.Events() & (item.Requested | EventErr)
				if x.fds[i].Revents&unix.POLLNVAL != 0 {
					// the socket's handle was closed under us
					item.Result |= EventErr
				}
			case HandleTarget:
				revents := x.fds[i].Revents
				if revents&unix.POLLIN != 0 {
					item.Result |= EventIn
				}
				if revents&unix.POLLOUT != 0 {
					item.Result |= EventOut
				}
				if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
					item.Result |= EventErr
				}
				item.Result &= item.Requested | EventErr
			}
			if item.Result != 0 {
				ready++
			}
		}

		if timeout == 0 || ready > 0 {
			return ready > 0, nil
		}
		firstPass = false
		if timeout > 0 && time.Since(start) >= timeout {
			return false, nil
		}
	}
}

func (x *Selector) describe(items []PollItem) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, item := range items {
		if i != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%v:%s", item.Target, item.Requested)
	}
	b.WriteByte(']')
	return b.String()
}

// durationToMillis rounds up, so a wait never ends before d has elapsed.
func durationToMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
