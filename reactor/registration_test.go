package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistration_activation(t *testing.T) {
	var activated, deactivated int
	reg := NewRegistration("sender", func() { activated++ }, func() { deactivated++ })

	var calls []string
	unsubA := reg.Subscribe(func(s string) { calls = append(calls, "a:"+s) })
	assert.Equal(t, 1, activated)
	unsubB := reg.Subscribe(func(s string) { calls = append(calls, "b:"+s) })
	assert.Equal(t, 1, activated, "only the first subscriber activates")
	assert.Equal(t, 2, reg.Count())
	assert.True(t, reg.Active())

	reg.Fire()
	assert.Equal(t, []string{"a:sender", "b:sender"}, calls)

	unsubA()
	unsubA()
	assert.Equal(t, 0, deactivated)
	assert.Equal(t, 1, reg.Count())
	unsubB()
	assert.Equal(t, 1, deactivated)
	assert.False(t, reg.Active())

	reg.Subscribe(func(string) {})
	assert.Equal(t, 2, activated, "reactivates after returning to zero")
}

func TestRegistration_unsubscribeDuringFire(t *testing.T) {
	reg := NewRegistration(1, nil, nil)
	var unsub func()
	var n int
	unsub = reg.Subscribe(func(int) {
		n++
		unsub()
	})
	reg.Subscribe(func(int) { n++ })
	reg.Fire()
	assert.Equal(t, 2, n, "snapshot of subscribers at the time of fire")
	reg.Fire()
	assert.Equal(t, 3, n)
}

func TestInterestNotifier(t *testing.T) {
	var x InterestNotifier
	var a, b int
	cancelA := x.OnInterestChanged(func() { a++ })
	x.OnInterestChanged(func() { b++ })
	x.OnInterestChanged(nil)()
	x.Notify()
	cancelA()
	cancelA()
	x.Notify()
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestEvents_String(t *testing.T) {
	assert.Equal(t, "None", Events(0).String())
	assert.Equal(t, "In|Err", (EventIn | EventErr).String())
	assert.Equal(t, "Out", EventOut.String())
	assert.True(t, (EventIn | EventOut).HasOut())
	assert.False(t, EventIn.HasErr())
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateStopped:  "Stopped",
		StateStarting: "Starting",
		StateRunning:  "Running",
		StateStopping: "Stopping",
		StateDisposed: "Disposed",
		State(99):     "Unknown",
	} {
		assert.Equal(t, want, s.String())
	}
}
