package downloads

import (
	"sync"
	"time"

	"media-grabber/internal/clock"
)

// Deduplicator suppresses repeated completion notifications for the same
// display name within a window.
type Deduplicator struct {
	clock  clock.Clock
	window time.Duration

	mu   sync.Mutex
	seen map[string]clock.Timer
}

// NewDeduplicator creates a deduplicator remembering names for window.
func NewDeduplicator(c clock.Clock, window time.Duration) *Deduplicator {
	if c == nil {
		c = clock.Real()
	}
	return &Deduplicator{
		clock:  c,
		window: window,
		seen:   make(map[string]clock.Timer),
	}
}

// ShouldNotify reports true the first time name is seen and remembers it
// until the window expires; repeats inside the window report false.
func (d *Deduplicator) ShouldNotify(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[name]; ok {
		return false
	}
	var timer clock.Timer
	timer = d.clock.AfterFunc(d.window, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.seen[name] == timer {
			delete(d.seen, name)
		}
	})
	d.seen[name] = timer
	return true
}

// Len returns the number of names currently remembered.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Close cancels all pending expiries.
func (d *Deduplicator) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, timer := range d.seen {
		timer.Stop()
		delete(d.seen, name)
	}
}
