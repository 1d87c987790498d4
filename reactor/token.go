package reactor

import (
	"runtime"
	"sync/atomic"
)

// loopToken identifies the goroutine currently executing the loop body. It is
// acquired by Run before the first iteration and released after cleanup, and
// holding it is what permits inline mutation of the reactor's sets.
type loopToken struct {
	owner atomic.Uint64
}

func (x *loopToken) acquire() { x.owner.Store(getGoroutineID()) }

func (x *loopToken) release() { x.owner.Store(0) }

// held reports whether the calling goroutine holds the token.
func (x *loopToken) held() bool {
	owner := x.owner.Load()
	if owner == 0 {
		return false
	}
	return getGoroutineID() == owner
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
