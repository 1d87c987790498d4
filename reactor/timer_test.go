package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stubTimeNow(t *testing.T, now time.Time) *time.Time {
	old := timeNow
	current := now
	timeNow = func() time.Time { return current }
	t.Cleanup(func() { timeNow = old })
	return &current
}

func TestTimer_SetEnabled(t *testing.T) {
	now := stubTimeNow(t, time.Unix(1000, 0))
	timer := NewTimer(time.Second, nil)
	assert.True(t, timer.Enabled())
	assert.True(t, timer.when.IsZero(), "scheduled by the reactor")

	timer.SetEnabled(false)
	assert.False(t, timer.Enabled())
	assert.True(t, timer.when.IsZero())

	*now = now.Add(5 * time.Second)
	timer.SetEnabled(true)
	assert.Equal(t, time.Unix(1006, 0), timer.when)

	*now = now.Add(time.Second)
	timer.SetEnabled(true)
	assert.Equal(t, time.Unix(1006, 0), timer.when, "enabling an enabled timer does not reschedule")
}

func TestTimer_SetInterval(t *testing.T) {
	now := stubTimeNow(t, time.Unix(1000, 0))
	timer := NewTimer(time.Second, nil)
	timer.SetInterval(3 * time.Second)
	assert.Equal(t, 3*time.Second, timer.Interval())
	assert.Equal(t, time.Unix(1003, 0), timer.when)

	timer.SetEnabled(false)
	*now = now.Add(time.Second)
	timer.SetInterval(2 * time.Second)
	assert.True(t, timer.when.IsZero(), "disabled timers stay unscheduled")

	timer.SetInterval(-1)
	assert.Zero(t, timer.Interval())
	assert.Zero(t, NewTimer(-time.Second, nil).Interval())
}

func TestTimer_EnableAndReset(t *testing.T) {
	now := stubTimeNow(t, time.Unix(1000, 0))
	timer := NewTimer(time.Second, nil)
	timer.SetEnabled(false)
	timer.EnableAndReset()
	assert.True(t, timer.Enabled())
	assert.Equal(t, time.Unix(1001, 0), timer.when)

	*now = now.Add(500 * time.Millisecond)
	timer.EnableAndReset()
	assert.Equal(t, time.Unix(1001, 0).Add(500*time.Millisecond), timer.when)
}

func TestTimer_next(t *testing.T) {
	base := time.Unix(1000, 0)
	timer := NewTimer(time.Second, nil)
	when, ok := timer.next(base)
	assert.True(t, ok)
	assert.Equal(t, base.Add(time.Second), when)
	when, ok = timer.next(base.Add(time.Hour))
	assert.True(t, ok)
	assert.Equal(t, base.Add(time.Second), when, "existing schedule is kept")

	timer.SetEnabled(false)
	_, ok = timer.next(base)
	assert.False(t, ok)
}

func TestTimer_due(t *testing.T) {
	base := time.Unix(1000, 0)
	timer := NewTimer(time.Second, nil)
	assert.False(t, timer.due(base.Add(time.Hour), time.Time{}), "unscheduled")

	timer.next(base)
	deadline := base.Add(time.Second)
	assert.False(t, timer.due(deadline.Add(-time.Millisecond), time.Time{}))
	assert.True(t, timer.due(deadline, time.Time{}))
	assert.True(t, timer.due(deadline.Add(-time.Millisecond), deadline), "early wake within the expected end")
	assert.False(t, timer.due(deadline.Add(-time.Millisecond), deadline.Add(-time.Millisecond)))
}

func TestTimer_fired(t *testing.T) {
	base := time.Unix(1000, 0)
	timer := NewTimer(time.Second, nil)
	timer.next(base)
	timer.fired(base.Add(2 * time.Second))
	assert.Equal(t, base.Add(3*time.Second), timer.when)

	timer.SetEnabled(false)
	timer.fired(base)
	assert.True(t, timer.when.IsZero(), "disabled in the callback")
}
