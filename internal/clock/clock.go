// Package clock provides the time source used by every timer-driven
// component so that expiry, sweeping and narration can be driven
// deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped the timer before it fired.
	Stop() bool
}

// Clock is a source of the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every runs f every d until the returned Timer is stopped. The next run is
// armed only after f returns, so runs never overlap.
func Every(c Clock, d time.Duration, f func()) Timer {
	r := &recurring{clock: c, period: d, fn: f}
	r.mu.Lock()
	r.timer = c.AfterFunc(d, r.fire)
	r.mu.Unlock()
	return r
}

type recurring struct {
	clock  Clock
	period time.Duration
	fn     func()

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func (r *recurring) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.fn()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.timer = r.clock.AfterFunc(r.period, r.fire)
}

// Stop cancels all future runs.
func (r *recurring) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
	return true
}
