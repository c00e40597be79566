// Package downloads tracks in-flight downloads reported by the worker: the
// operation registry, its staleness sweeper and the completion
// deduplicator, plus the glue binding them to the event channel.
package downloads

import (
	"sync"
	"time"

	"media-grabber/internal/clock"
	"media-grabber/internal/domain"
	"media-grabber/internal/metrics"
)

const (
	defaultDisplayName = "Download"
	unknownKey         = "Unknown"
)

// Registry maps operation ids to their latest known state. Every method is
// atomic with respect to the others.
type Registry struct {
	mu      sync.Mutex
	clock   clock.Clock
	order   []string
	entries map[string]*domain.OperationEntry
}

// NewRegistry creates an empty registry stamping updates with c.
func NewRegistry(c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real()
	}
	return &Registry{
		clock:   c,
		entries: make(map[string]*domain.OperationEntry),
	}
}

// ResolveKey picks the registry key for a progress event. An id always wins.
// Without an id, an existing entry already displaying filename is reused so
// the same download is not tracked twice; otherwise the filename is the key.
func (r *Registry) ResolveKey(id, filename string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveKeyLocked(id, filename)
}

func (r *Registry) resolveKeyLocked(id, filename string) string {
	if id != "" {
		return id
	}
	if filename == "" {
		return unknownKey
	}
	if _, ok := r.entries[filename]; ok {
		return filename
	}
	for _, key := range r.order {
		if r.entries[key].DisplayName == filename {
			return key
		}
	}
	return filename
}

// MergeProgress resolves the key for an event and applies its sample in one
// step, so concurrent deliveries for the same file land on one entry. It
// returns the key used.
func (r *Registry) MergeProgress(id, filename string, sample domain.ProgressSample) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.resolveKeyLocked(id, filename)
	r.upsertProgressLocked(key, sample, filename)
	return key
}

// MergeStatus is MergeProgress for free-text status.
func (r *Registry) MergeStatus(id, filename, text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.resolveKeyLocked(id, filename)
	r.upsertStatusLocked(key, text, filename)
	return key
}

// UpsertProgress replaces the entry's progress sample, clears any status
// text and refreshes its timestamp.
func (r *Registry) UpsertProgress(id string, sample domain.ProgressSample, displayNameHint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertProgressLocked(id, sample, displayNameHint)
}

func (r *Registry) upsertProgressLocked(id string, sample domain.ProgressSample, displayNameHint string) {
	entry := r.getOrCreateLocked(id)
	switch {
	case displayNameHint != "":
		entry.DisplayName = displayNameHint
	case entry.DisplayName == "":
		entry.DisplayName = defaultDisplayName
	}
	s := sample
	entry.Progress = &s
	entry.StatusText = ""
	entry.LastUpdate = r.clock.Now()
}

// UpsertStatus sets free-text status, clears any progress and refreshes the
// entry's timestamp.
func (r *Registry) UpsertStatus(id, text, displayNameHint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertStatusLocked(id, text, displayNameHint)
}

func (r *Registry) upsertStatusLocked(id, text, displayNameHint string) {
	entry := r.getOrCreateLocked(id)
	switch {
	case displayNameHint != "":
		entry.DisplayName = displayNameHint
	case entry.DisplayName == "":
		entry.DisplayName = defaultDisplayName
	}
	entry.Progress = nil
	entry.StatusText = text
	entry.LastUpdate = r.clock.Now()
}

// Remove deletes the entry for id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// RemoveByName deletes every entry displaying name and returns their ids.
func (r *Registry) RemoveByName(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, key := range append([]string(nil), r.order...) {
		if r.entries[key].DisplayName == name {
			r.removeLocked(key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Sweep evicts entries idle for longer than staleAfter whose last progress
// sample reports completion. Status-only entries are never swept.
func (r *Registry) Sweep(staleAfter time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var removed []string
	for _, key := range append([]string(nil), r.order...) {
		entry := r.entries[key]
		if entry.Progress == nil || entry.Progress.Percent < 100 {
			continue
		}
		if now.Sub(entry.LastUpdate) > staleAfter {
			r.removeLocked(key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id string) (domain.OperationEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return domain.OperationEntry{}, false
	}
	return copyEntry(entry), true
}

// Snapshot returns copies of all entries in insertion order.
func (r *Registry) Snapshot() []domain.OperationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.OperationEntry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, copyEntry(r.entries[key]))
	}
	return out
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) getOrCreateLocked(id string) *domain.OperationEntry {
	if entry, ok := r.entries[id]; ok {
		return entry
	}
	entry := &domain.OperationEntry{ID: id}
	r.entries[id] = entry
	r.order = append(r.order, id)
	metrics.ActiveDownloads.Set(float64(len(r.order)))
	return entry
}

func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	for i, key := range r.order {
		if key == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.ActiveDownloads.Set(float64(len(r.order)))
	return true
}

func copyEntry(entry *domain.OperationEntry) domain.OperationEntry {
	out := *entry
	if entry.Progress != nil {
		p := *entry.Progress
		out.Progress = &p
	}
	return out
}
