package reactor

import (
	"sync"
	"time"
)

// Timer fires a callback on a Reactor, every Interval while enabled. Timers
// are enabled on construction. Methods may be called from any goroutine,
// including from within the callback.
type Timer struct {
	fn       func(t *Timer)
	when     time.Time
	interval time.Duration
	mu       sync.Mutex
	enabled  bool
}

// timeNow is replaceable for testing.
var timeNow = time.Now

// NewTimer constructs an enabled Timer. A negative interval is treated as
// zero, which fires on every iteration of the reactor.
func NewTimer(interval time.Duration, fn func(t *Timer)) *Timer {
	if interval < 0 {
		interval = 0
	}
	return &Timer{
		fn:       fn,
		interval: interval,
		enabled:  true,
	}
}

// Interval returns the period between callbacks.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the interval, rescheduling an enabled timer to fire
// one interval from now.
func (t *Timer) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = d
	if t.enabled {
		t.when = timeNow().Add(d)
	}
}

// Enabled reports whether the timer is scheduled to fire.
func (t *Timer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled enables or disables the timer. Enabling a disabled timer
// schedules it to fire one interval from now.
func (t *Timer) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enabled {
		if !t.enabled {
			t.when = timeNow().Add(t.interval)
		}
	} else {
		t.when = time.Time{}
	}
	t.enabled = enabled
}

// EnableAndReset enables the timer if necessary, and schedules it to fire one
// interval from now.
func (t *Timer) EnableAndReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	t.when = timeNow().Add(t.interval)
}

// next returns the scheduled fire time, first scheduling an enabled timer
// that has none.
func (t *Timer) next(now time.Time) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.when.IsZero() {
		if !t.enabled {
			return time.Time{}, false
		}
		t.when = now.Add(t.interval)
	}
	return t.when, true
}

// due reports whether the timer should fire, tolerating a wait that returned
// slightly before its deadline via expectedEnd.
func (t *Timer) due(now, expectedEnd time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.when.IsZero() {
		return false
	}
	return !now.Before(t.when) || (!expectedEnd.IsZero() && !expectedEnd.Before(t.when))
}

// fired reschedules the timer after its callback returned, unless the
// callback disabled it.
func (t *Timer) fired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		t.when = now.Add(t.interval)
	}
}

// restart schedules an enabled timer one interval from now, and unschedules
// a disabled one.
func (t *Timer) restart(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		t.when = now.Add(t.interval)
	} else {
		t.when = time.Time{}
	}
}

// reset clears the scheduled fire time.
func (t *Timer) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.when = time.Time{}
}
