//go:build linux || darwin

package reactor

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultErrorLogRate allows bursts of warnings, per category, while
// bounding the volume from a persistently failing socket.
var DefaultErrorLogRate = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// log categories
const (
	logCategoryEvict = "evict"
	logCategoryPanic = "panic"
	logCategoryFault = "fault"
)

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reactor: invalid error log rate: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// warning returns a builder for a warning in the given category, or nil if
// logging is disabled or the category is being rate limited.
func (r *Reactor) warning(category string) *logiface.Builder[logiface.Event] {
	b := r.logger.Warning()
	if !b.Enabled() {
		return nil
	}
	if _, ok := r.limiter.Allow(category); !ok {
		b.Release()
		return nil
	}
	return b.Str("reactor", r.name).Str("category", category)
}

func (r *Reactor) logPanic(where string, value any) {
	r.warning(logCategoryPanic).
		Str("in", where).
		Err(PanicError{Value: value}).
		Log("callback panicked")
}

func (r *Reactor) logEvict(sock Pollable, errors int) {
	r.warning(logCategoryEvict).
		Int("fd", sock.FD()).
		Int("errors", errors).
		Log("removed socket after repeated errors")
}

func (r *Reactor) logDisposed(sock Pollable) {
	r.warning(logCategoryEvict).
		Int("fd", sock.FD()).
		Log("removed socket disposed while registered")
}

func (r *Reactor) logFault(err error) {
	r.logger.Err().
		Str("reactor", r.name).
		Str("category", logCategoryFault).
		Err(err).
		Log("reactor terminated by select fault")
}

func (r *Reactor) logLifecycle(msg string) {
	r.logger.Debug().
		Str("reactor", r.name).
		Log(msg)
}
