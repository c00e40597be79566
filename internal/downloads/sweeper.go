package downloads

import (
	"log/slog"
	"sync"
	"time"

	"media-grabber/internal/clock"
	"media-grabber/internal/logging"
	"media-grabber/internal/metrics"
)

// Sweeper periodically evicts stale, completed registry entries that never
// received a matching completion event.
type Sweeper struct {
	registry   *Registry
	clock      clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	onEvict    func(ids []string)
	logger     *slog.Logger

	mu    sync.Mutex
	timer clock.Timer
}

// NewSweeper builds a sweeper; onEvict may be nil.
func NewSweeper(registry *Registry, c clock.Clock, interval, staleAfter time.Duration, onEvict func([]string), logger *slog.Logger) *Sweeper {
	if c == nil {
		c = clock.Real()
	}
	return &Sweeper{
		registry:   registry,
		clock:      c,
		interval:   interval,
		staleAfter: staleAfter,
		onEvict:    onEvict,
		logger:     logging.OrDefault(logger),
	}
}

// Start begins periodic sweeping. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = clock.Every(s.clock, s.interval, s.sweep)
}

// Stop halts sweeping.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Sweeper) sweep() {
	removed := s.registry.Sweep(s.staleAfter)
	if len(removed) == 0 {
		return
	}
	metrics.SweptDownloadsTotal.Add(float64(len(removed)))
	s.logger.Debug("swept stale downloads", "count", len(removed), "ids", removed)
	if s.onEvict != nil {
		s.onEvict(removed)
	}
}
