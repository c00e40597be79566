package downloads

import (
	"log/slog"
	"sync"
	"time"

	"media-grabber/internal/clock"
	"media-grabber/internal/domain"
	"media-grabber/internal/events"
	"media-grabber/internal/logging"
	"media-grabber/internal/metrics"
)

// Notifier receives user-facing download notifications.
type Notifier interface {
	DownloadCompleted(filename, path string)
	DownloadFailed(target string, err error)
}

// Options configures a Tracker. Zero durations fall back to the defaults
// used by the desktop client.
type Options struct {
	Clock           clock.Clock
	SweepInterval   time.Duration
	StaleAfter      time.Duration
	DedupWindow     time.Duration
	CompletionDelay time.Duration
	Notifier        Notifier
	// OnChange is called after every registry mutation with a fresh snapshot.
	OnChange func([]domain.OperationEntry)
	Logger   *slog.Logger
}

// Tracker merges worker events into the registry, notifies once per
// completion and keeps the registry bounded.
type Tracker struct {
	registry *Registry
	dedup    *Deduplicator
	sweeper  *Sweeper
	clock    clock.Clock
	delay    time.Duration
	notifier Notifier
	onChange func([]domain.OperationEntry)
	logger   *slog.Logger

	mu       sync.Mutex
	unsubs   []func()
	removals map[clock.Timer]struct{}
	closed   bool
}

// NewTracker builds a tracker and starts its sweeper.
func NewTracker(opts Options) *Tracker {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	sweepInterval := orDefault(opts.SweepInterval, 5*time.Second)
	staleAfter := orDefault(opts.StaleAfter, 30*time.Second)
	window := orDefault(opts.DedupWindow, 10*time.Second)
	delay := orDefault(opts.CompletionDelay, 2*time.Second)
	logger := logging.OrDefault(opts.Logger)

	t := &Tracker{
		registry: NewRegistry(c),
		dedup:    NewDeduplicator(c, window),
		clock:    c,
		delay:    delay,
		notifier: opts.Notifier,
		onChange: opts.OnChange,
		logger:   logger,
		removals: make(map[clock.Timer]struct{}),
	}
	t.sweeper = NewSweeper(t.registry, c, sweepInterval, staleAfter, func([]string) { t.changed() }, logger)
	t.sweeper.Start()
	return t
}

// Attach subscribes the tracker to the download topics of ch. A tracker may
// be attached to several channels; all deliveries merge into one registry.
func (t *Tracker) Attach(ch *events.Channel) {
	unsubs := []func(){
		ch.OnDownloadProgress(t.HandleProgress),
		ch.OnDownloadStatus(t.HandleStatus),
		ch.OnDownloadComplete(t.HandleComplete),
	}
	t.mu.Lock()
	t.unsubs = append(t.unsubs, unsubs...)
	t.mu.Unlock()
}

// HandleProgress merges a progress sample.
func (t *Tracker) HandleProgress(p events.DownloadProgress) {
	t.registry.MergeProgress(p.ID, p.Filename, domain.ProgressSample{
		Percent:    p.Percent,
		Downloaded: p.Downloaded,
		Total:      p.Total,
		Speed:      p.Speed,
		ETA:        p.ETA,
	})
	t.changed()
}

// HandleStatus merges a free-text status update.
func (t *Tracker) HandleStatus(s events.DownloadStatus) {
	t.registry.MergeStatus(s.ID, s.Filename, s.Status)
	t.changed()
}

// HandleComplete notifies at most once per window and schedules removal of
// the matching entries after the completion delay.
func (t *Tracker) HandleComplete(c events.DownloadComplete) {
	notify := t.dedup.ShouldNotify(c.Filename)
	metrics.RecordCompletion(notify)
	if notify {
		t.logger.Info("download complete", "filename", c.Filename, "path", c.Path)
		if t.notifier != nil {
			t.notifier.DownloadCompleted(c.Filename, c.Path)
		}
	} else {
		t.logger.Debug("suppressed duplicate completion", "filename", c.Filename)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	var timer clock.Timer
	timer = t.clock.AfterFunc(t.delay, func() {
		t.mu.Lock()
		delete(t.removals, timer)
		t.mu.Unlock()

		if removed := t.registry.RemoveByName(c.Filename); len(removed) > 0 {
			t.changed()
		}
	})
	t.removals[timer] = struct{}{}
}

// Snapshot returns the tracked downloads in insertion order.
func (t *Tracker) Snapshot() []domain.OperationEntry {
	return t.registry.Snapshot()
}

// Registry exposes the underlying registry.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Dismiss removes a download from display without signalling the worker.
func (t *Tracker) Dismiss(id string) bool {
	if !t.registry.Remove(id) {
		return false
	}
	t.changed()
	return true
}

// Close unsubscribes from all channels and stops every timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	unsubs := t.unsubs
	t.unsubs = nil
	for timer := range t.removals {
		timer.Stop()
	}
	t.removals = make(map[clock.Timer]struct{})
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	t.sweeper.Stop()
	t.dedup.Close()
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange(t.registry.Snapshot())
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
