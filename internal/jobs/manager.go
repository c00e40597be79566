// Package jobs runs transcription jobs against the worker and keeps their
// client-side state: the forward-only status machine, synthesized
// narration while a job is processing, selection and a change feed.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"media-grabber/internal/clock"
	"media-grabber/internal/domain"
	"media-grabber/internal/logging"
	"media-grabber/internal/metrics"
	"media-grabber/internal/transcribe"
	"media-grabber/internal/worker"
)

// ErrJobNotFound is returned for unknown or removed job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when changing a job that already finished.
var ErrJobTerminal = errors.New("job already finished")

// ErrInvalidRequest is returned when a submission cannot produce any job.
var ErrInvalidRequest = errors.New("invalid transcription request")

const (
	messageWaiting   = "Waiting..."
	messageStarting  = "Starting..."
	messageCompleted = "Completed"
	messageFailed    = "Failed to transcribe"

	defaultNarrationInterval = 2500 * time.Millisecond
)

// Transcriber is the worker surface used by jobs.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path string) (json.RawMessage, error)
	TranscribeURL(ctx context.Context, platform domain.Platform, method domain.Method, url string) (json.RawMessage, error)
}

// SubmitRequest describes one user submission: either local files or one URL.
type SubmitRequest struct {
	Platform domain.Platform `json:"platform"`
	Method   domain.Method   `json:"method,omitempty"`
	URL      string          `json:"url,omitempty"`
	Files    []string        `json:"files,omitempty"`
}

// Counts summarizes jobs by status.
type Counts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for timestamps and narration.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithNarrationInterval sets the delay between narration messages.
func WithNarrationInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMaxConcurrent bounds simultaneous worker calls. Zero keeps fan-out
// unbounded.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrDefault(logger)
	}
}

// WithListener registers fn to receive every published event. Events reach
// fn one at a time in sequence order. fn must not call methods that change
// jobs.
func WithListener(fn func(Event)) Option {
	return func(m *Manager) {
		m.listener = fn
	}
}

// WithIDGenerator replaces the job id source.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithEventBus sets the bus receiving job changes.
func WithEventBus(bus *EventBus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

type jobState struct {
	job       domain.TranscriptionJob
	narration *narration
}

// Manager owns every transcription job.
type Manager struct {
	transcriber Transcriber
	clock       clock.Clock
	interval    time.Duration
	sem         *semaphore.Weighted
	logger      *slog.Logger
	listener    func(Event)
	newID       func() string
	bus         *EventBus

	mu       sync.RWMutex
	order    []string
	jobs     map[string]*jobState
	selected string
	closed   bool

	emitMu    sync.Mutex
	delivered int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager dispatching to transcriber.
func NewManager(transcriber Transcriber, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transcriber: transcriber,
		clock:       clock.Real(),
		interval:    defaultNarrationInterval,
		logger:      slog.Default(),
		newID:       newJobID,
		bus:         NewEventBus(0),
		jobs:        make(map[string]*jobState),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transcriber == nil {
		m.transcriber = worker.NewAPI(worker.Unavailable{})
	}
	m.delivered = m.bus.LastSeq()
	return m
}

// Submit creates one job per local file, or exactly one job for a URL, and
// starts each of them. Jobs that get a worker slot are returned already
// processing; the rest stay queued until a slot frees up.
func (m *Manager) Submit(req SubmitRequest) ([]domain.TranscriptionJob, error) {
	specs, err := m.plan(req)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: manager closed", ErrInvalidRequest)
	}
	ids := make([]string, 0, len(specs))
	for _, job := range specs {
		job.ID = m.newID()
		job.Status = domain.JobStatusQueued
		job.StatusMessage = messageWaiting
		job.StartedAt = now
		m.jobs[job.ID] = &jobState{job: job}
		m.order = append(m.order, job.ID)
		ids = append(ids, job.ID)
		m.eventLocked(job.ID, EventTypeStatus, job.StatusMessage, "")
	}
	m.mu.Unlock()
	m.emit()

	m.logger.Info("transcription submitted", "platform", req.Platform, "jobs", len(ids))

	for _, id := range ids {
		m.dispatch(id)
	}

	out := make([]domain.TranscriptionJob, 0, len(ids))
	m.mu.RLock()
	for _, id := range ids {
		if st, ok := m.jobs[id]; ok {
			out = append(out, copyJob(st.job))
		}
	}
	m.mu.RUnlock()
	return out, nil
}

// Resolve completes a job with a raw worker result.
func (m *Manager) Resolve(jobID string, raw json.RawMessage) error {
	normalized := transcribe.NormalizeRaw(raw)

	m.mu.Lock()
	st, err := m.transitionLocked(jobID, domain.JobStatusCompleted)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.job.StatusMessage = messageCompleted
	st.job.StatusIcon = ""
	st.job.ResultText = normalized.Text
	st.job.ResultMetadata = normalized.Metadata
	m.eventLocked(jobID, EventTypeResult, messageCompleted, "")
	m.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(domain.JobStatusCompleted)).Inc()
	m.logger.Info("transcription completed", "job_id", jobID, "chars", len(normalized.Text))
	m.emit()
	return nil
}

// Fail records a job failure. An empty message falls back to a generic one.
func (m *Manager) Fail(jobID, message string) error {
	if strings.TrimSpace(message) == "" {
		message = messageFailed
	}

	m.mu.Lock()
	st, err := m.transitionLocked(jobID, domain.JobStatusError)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.job.ErrorMessage = message
	m.eventLocked(jobID, EventTypeError, message, "")
	m.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(domain.JobStatusError)).Inc()
	m.logger.Warn("transcription failed", "job_id", jobID, "error", message)
	m.emit()
	return nil
}

// Remove deletes a job whatever its status and clears the selection if it
// pointed at it. An outstanding worker call is not cancelled; its outcome
// is dropped when it arrives.
func (m *Manager) Remove(jobID string) error {
	m.mu.Lock()
	st, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if st.narration != nil {
		st.narration.stop()
		st.narration = nil
	}
	delete(m.jobs, jobID)
	for i, id := range m.order {
		if id == jobID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.selected == jobID {
		m.selected = ""
	}
	m.bus.Publish(Event{
		Timestamp: m.clock.Now().UTC(),
		JobID:     jobID,
		Type:      EventTypeRemoved,
		Status:    st.job.Status,
	})
	m.mu.Unlock()

	m.emit()
	return nil
}

// Select marks jobID as the selected job. An empty id clears the selection.
func (m *Manager) Select(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if jobID == "" {
		m.selected = ""
		return nil
	}
	if _, ok := m.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	m.selected = jobID
	return nil
}

// Selected returns the selected job, if any.
func (m *Manager) Selected() (domain.TranscriptionJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.jobs[m.selected]
	if !ok {
		return domain.TranscriptionJob{}, false
	}
	return copyJob(st.job), true
}

// Job returns a snapshot of one job.
func (m *Manager) Job(jobID string) (domain.TranscriptionJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.jobs[jobID]
	if !ok {
		return domain.TranscriptionJob{}, false
	}
	return copyJob(st.job), true
}

// Jobs returns snapshots of all jobs in submission order.
func (m *Manager) Jobs() []domain.TranscriptionJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TranscriptionJob, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyJob(m.jobs[id].job))
	}
	return out
}

// Counts tallies jobs by status.
func (m *Manager) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counts
	for _, st := range m.jobs {
		switch st.job.Status {
		case domain.JobStatusQueued:
			c.Queued++
		case domain.JobStatusProcessing:
			c.Processing++
		case domain.JobStatusCompleted:
			c.Completed++
		case domain.JobStatusError:
			c.Failed++
		}
	}
	return c
}

// Events returns job changes with sequence greater than since.
func (m *Manager) Events(since int64) []Event {
	return m.bus.Since(since)
}

// Wait blocks until all outstanding worker calls have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops all narration, cancels outstanding calls and waits for them.
// Outcomes arriving after Close are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, st := range m.jobs {
		if st.narration != nil {
			st.narration.stop()
			st.narration = nil
		}
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) plan(req SubmitRequest) ([]domain.TranscriptionJob, error) {
	platform := req.Platform
	if platform == "" {
		if len(req.Files) > 0 {
			platform = domain.PlatformVideo
		} else {
			platform = domain.PlatformUniversal
		}
	}

	if platform == domain.PlatformVideo {
		var out []domain.TranscriptionJob
		for _, path := range req.Files {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			out = append(out, domain.TranscriptionJob{
				Source:      domain.SourceLocal,
				Platform:    domain.PlatformVideo,
				Method:      domain.MethodWhisper,
				Input:       path,
				DisplayName: filepath.Base(path),
			})
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: no files selected", ErrInvalidRequest)
		}
		return out, nil
	}

	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	method := req.Method
	if method == "" {
		method = domain.MethodWhisper
	}
	switch platform {
	case domain.PlatformYouTube, domain.PlatformTikTok, domain.PlatformUniversal:
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidRequest, platform)
	}
	if method != domain.MethodNative && method != domain.MethodWhisper {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidRequest, method)
	}
	if method == domain.MethodNative && platform != domain.PlatformYouTube {
		return nil, fmt.Errorf("%w: caption extraction is only available for youtube", ErrInvalidRequest)
	}
	return []domain.TranscriptionJob{{
		Source:      domain.SourceRemote,
		Platform:    platform,
		Method:      method,
		Input:       url,
		DisplayName: url,
	}}, nil
}

// dispatch starts jobID now if a worker slot is free, otherwise waits for
// one in the background while the job stays queued.
func (m *Manager) dispatch(jobID string) {
	if m.sem == nil || m.sem.TryAcquire(1) {
		m.start(jobID)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return
		}
		m.start(jobID)
	}()
}

func (m *Manager) start(jobID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.release()
		return
	}
	st, err := m.transitionLocked(jobID, domain.JobStatusProcessing)
	if err != nil {
		m.mu.Unlock()
		m.release()
		return
	}
	st.job.StatusMessage = messageStarting
	n := &narration{script: Script(st.job.Platform, st.job.Method)}
	n.timer = clock.Every(m.clock, m.interval, func() { m.narrate(jobID, n) })
	st.narration = n
	job := copyJob(st.job)
	m.eventLocked(jobID, EventTypeStatus, messageStarting, "")
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.JobsInFlight.Inc()
	m.emit()
	go m.run(job)
}

func (m *Manager) run(job domain.TranscriptionJob) {
	defer m.wg.Done()
	defer m.release()
	defer metrics.JobsInFlight.Dec()

	var (
		raw json.RawMessage
		err error
	)
	if job.Source == domain.SourceLocal {
		raw, err = m.transcriber.TranscribeFile(m.ctx, job.Input)
	} else {
		raw, err = m.transcriber.TranscribeURL(m.ctx, job.Platform, job.Method, job.Input)
	}
	if m.ctx.Err() != nil {
		return
	}

	if err != nil {
		err = m.Fail(job.ID, worker.Message(err))
	} else {
		err = m.Resolve(job.ID, raw)
	}
	if err != nil {
		m.logger.Debug("dropping late transcription outcome", "job_id", job.ID, "error", err)
	}
}

// narrate writes the next scripted message into a processing job. A tick
// that finds the job gone, finished or on a different narration does
// nothing but stop itself.
func (m *Manager) narrate(jobID string, n *narration) {
	m.mu.Lock()
	st, ok := m.jobs[jobID]
	if !ok || st.narration != n || st.job.Status != domain.JobStatusProcessing {
		n.stop()
		m.mu.Unlock()
		return
	}
	step, ok := n.advance()
	if !ok {
		n.stop()
		m.mu.Unlock()
		return
	}
	st.job.StatusMessage = step.Message
	st.job.StatusIcon = step.Icon
	st.job.NarrationStep = n.next
	if n.exhausted() {
		n.stop()
	}
	m.eventLocked(jobID, EventTypeNarration, step.Message, step.Icon)
	m.mu.Unlock()

	m.emit()
}

// transitionLocked applies a status change, stopping narration on any
// terminal transition.
func (m *Manager) transitionLocked(jobID string, to domain.JobStatus) (*jobState, error) {
	st, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	from := st.job.Status
	if from.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, from)
	}
	if !isValidTransition(from, to) {
		return nil, fmt.Errorf("invalid transition: %s -> %s", from, to)
	}

	st.job.Status = to
	if to.IsTerminal() {
		ended := m.clock.Now()
		st.job.EndedAt = &ended
		if st.narration != nil {
			st.narration.stop()
			st.narration = nil
		}
	}
	return st, nil
}

// eventLocked publishes a change carrying the job's current snapshot.
func (m *Manager) eventLocked(jobID string, typ EventType, message, icon string) {
	st := m.jobs[jobID]
	job := copyJob(st.job)
	m.bus.Publish(Event{
		Timestamp: m.clock.Now().UTC(),
		JobID:     jobID,
		Type:      typ,
		Status:    job.Status,
		Message:   message,
		Icon:      icon,
		Job:       &job,
	})
}

// emit delivers every event the listener has not seen yet, in sequence
// order, whichever goroutine published it.
func (m *Manager) emit() {
	if m.listener == nil {
		return
	}
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for _, event := range m.bus.Since(m.delivered) {
		m.delivered = event.Seq
		m.listener(event)
	}
}

func (m *Manager) release() {
	if m.sem != nil {
		m.sem.Release(1)
	}
}

// isValidTransition enforces the forward-only job state machine.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusProcessing || to == domain.JobStatusError
	case domain.JobStatusProcessing:
		return to == domain.JobStatusCompleted || to == domain.JobStatusError
	default:
		return false
	}
}

func copyJob(job domain.TranscriptionJob) domain.TranscriptionJob {
	out := job
	if job.ResultMetadata != nil {
		out.ResultMetadata = make(map[string]any, len(job.ResultMetadata))
		for k, v := range job.ResultMetadata {
			out.ResultMetadata[k] = v
		}
	}
	if job.EndedAt != nil {
		ended := *job.EndedAt
		out.EndedAt = &ended
	}
	return out
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "job-" + uuid.NewString()
	}
	return "job-" + id.String()
}
