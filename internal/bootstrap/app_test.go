package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"media-grabber/internal/clock"
	"media-grabber/internal/diagnostics"
	"media-grabber/internal/domain"
	"media-grabber/internal/events"
	"media-grabber/internal/jobs"
	"media-grabber/internal/worker"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore keeps settings in memory for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

// Load returns the stored settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save replaces the stored settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saves++
	return nil
}

type pushed struct {
	name string
	data interface{}
}

// recordingEmitter captures runtime events instead of sending them to the UI.
type recordingEmitter struct {
	mu     sync.Mutex
	events []pushed
}

func (r *recordingEmitter) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, pushed{name: name, data: payload})
}

func (r *recordingEmitter) named(name string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, event := range r.events {
		if event.name == name {
			out = append(out, event.data)
		}
	}
	return out
}

// stubInvoker answers every command with a fixed result.
type stubInvoker struct {
	raw string
	err error
}

func (s stubInvoker) Invoke(context.Context, string, any) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.raw), nil
}

func okDial(context.Context, string) error { return nil }

func newTestApp(t *testing.T, settings domain.Settings) (*App, *recordingEmitter, *clock.Fake, *fakeStore) {
	t.Helper()
	if settings.WorkerURL == "" {
		settings.WorkerURL = "ws://127.0.0.1:47821/rpc"
	}
	if settings.DownloadDir == "" {
		settings.DownloadDir = t.TempDir()
	}

	store := &fakeStore{settings: settings}
	fc := clock.NewFake(epoch)
	a := newApp(appOptions{
		store:    store,
		settings: settings,
		clock:    fc,
		checker:  diagnostics.NewCheckerForTests(okDial, os.MkdirAll, os.CreateTemp, os.Remove),
	})

	rec := &recordingEmitter{}
	a.emit = rec.emit
	a.runtimeCtx = context.Background()
	a.connectFn = func(context.Context, string) (*worker.Conn, error) {
		return nil, errors.New("connection refused")
	}
	t.Cleanup(a.Close)
	return a, rec, fc, store
}

// TestSubmitTranscriptionWithoutWorkerFailsJobs checks that jobs fail fast
// while no worker is connected and every change is pushed.
func TestSubmitTranscriptionWithoutWorkerFailsJobs(t *testing.T) {
	a, rec, _, _ := newTestApp(t, domain.Settings{})

	created, err := a.SubmitTranscription(jobs.SubmitRequest{Files: []string{"/media/a.mp4", "/media/b.mp4"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d jobs, want 2", len(created))
	}

	for _, job := range created {
		got := waitForJobStatus(t, a, job.ID, domain.JobStatusError)
		if !strings.Contains(got.ErrorMessage, "unavailable") {
			t.Fatalf("error message = %q", got.ErrorMessage)
		}
	}
	if counts := a.JobCounts(); counts.Failed != 2 {
		t.Fatalf("counts = %+v, want 2 failed", counts)
	}
	if len(rec.named(EventJob)) == 0 {
		t.Fatal("expected job events to be pushed")
	}
	assertEventTypeExists(t, a.JobEvents(0), jobs.EventTypeError)
}

// TestSubmitTranscriptionUsesCurrentInvoker checks that a swapped-in worker
// serves jobs submitted afterwards.
func TestSubmitTranscriptionUsesCurrentInvoker(t *testing.T) {
	a, _, _, _ := newTestApp(t, domain.Settings{})
	a.invoker.Set(stubInvoker{raw: `{"transcript":"hello there","title":"Clip"}`})

	created, err := a.SubmitTranscription(jobs.SubmitRequest{
		Platform: domain.PlatformYouTube,
		Method:   domain.MethodNative,
		URL:      "https://youtube.com/watch?v=abc",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job := waitForJobStatus(t, a, created[0].ID, domain.JobStatusCompleted)
	if job.ResultText != "hello there" {
		t.Fatalf("result text = %q", job.ResultText)
	}
	if job.ResultMetadata["title"] != "Clip" {
		t.Fatalf("metadata = %v", job.ResultMetadata)
	}
	assertEventTypeExists(t, a.JobEvents(0), jobs.EventTypeResult)
}

// TestDownloadEventsArePushed checks the tracker wiring from worker topics
// to UI updates and completion notifications.
func TestDownloadEventsArePushed(t *testing.T) {
	a, rec, fc, _ := newTestApp(t, domain.Settings{})

	a.hub.Emit(events.TopicDownloadProgress, map[string]any{
		"id":       "dl-1",
		"filename": "clip.mp4",
		"percent":  42.0,
	})
	if got := a.ActiveDownloads(); len(got) != 1 || got[0].Progress == nil || got[0].Progress.Percent != 42 {
		t.Fatalf("active downloads = %+v", got)
	}
	updates := rec.named(EventDownloadsUpdate)
	if len(updates) != 1 {
		t.Fatalf("downloads updates = %d, want 1", len(updates))
	}

	a.hub.Emit(events.TopicDownloadComplete, map[string]any{"filename": "clip.mp4", "path": "/dl/clip.mp4"})
	a.hub.Emit(events.TopicDownloadComplete, map[string]any{"filename": "clip.mp4", "path": "/dl/clip.mp4"})
	completes := rec.named(EventDownloadComplete)
	if len(completes) != 1 {
		t.Fatalf("completion pushes = %d, want 1", len(completes))
	}
	payload, ok := completes[0].(map[string]string)
	if !ok || payload["path"] != "/dl/clip.mp4" {
		t.Fatalf("completion payload = %#v", completes[0])
	}

	fc.Advance(2 * time.Second)
	if got := a.ActiveDownloads(); len(got) != 0 {
		t.Fatalf("active downloads after completion = %+v", got)
	}
}

// TestDismissDownload checks manual removal of a tracked download.
func TestDismissDownload(t *testing.T) {
	a, _, _, _ := newTestApp(t, domain.Settings{})
	a.hub.Emit(events.TopicDownloadStatus, map[string]any{"id": "dl-1", "filename": "clip.mp4", "status": "Merging"})

	if !a.DismissDownload("dl-1") {
		t.Fatal("expected dismiss to succeed")
	}
	if a.DismissDownload("dl-1") {
		t.Fatal("second dismiss should report false")
	}
}

// TestDownloadFailedPushesWorkerMessage checks the failure payload.
func TestDownloadFailedPushesWorkerMessage(t *testing.T) {
	a, rec, _, _ := newTestApp(t, domain.Settings{})

	a.DownloadFailed("https://example.com/v", &worker.InvocationError{Command: "download_universal", Message: "unsupported site"})

	got := rec.named(EventDownloadError)
	if len(got) != 1 {
		t.Fatalf("error pushes = %d, want 1", len(got))
	}
	payload := got[0].(map[string]string)
	if payload["error"] != "unsupported site" || payload["url"] != "https://example.com/v" {
		t.Fatalf("payload = %v", payload)
	}
}

// TestStartDownloadWithoutWorkerReportsFailure checks the fire-and-forget
// path surfaces the unavailable worker through a push.
func TestStartDownloadWithoutWorkerReportsFailure(t *testing.T) {
	a, rec, _, _ := newTestApp(t, domain.Settings{})

	site, err := a.StartDownload("https://www.tiktok.com/@user/video/1")
	if err != nil {
		t.Fatalf("start download: %v", err)
	}
	if site != "tiktok" {
		t.Fatalf("site = %q, want tiktok", site)
	}
	a.Downloads.Wait()

	if got := rec.named(EventDownloadError); len(got) != 1 {
		t.Fatalf("error pushes = %d, want 1", len(got))
	}
}

// TestSaveSettingsReconnectsOnURLChange checks persistence, reconnects and
// diagnostics refresh.
func TestSaveSettingsReconnectsOnURLChange(t *testing.T) {
	a, rec, _, store := newTestApp(t, domain.Settings{})

	var mu sync.Mutex
	var dialed []string
	a.connectFn = func(_ context.Context, url string) (*worker.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dialed = append(dialed, url)
		return nil, errors.New("connection refused")
	}

	next := a.Settings
	next.WorkerURL = "ws://10.0.0.2:47821/rpc"
	next.MaxConcurrentJobs = -3
	saved, err := a.SaveSettings(next)
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.MaxConcurrentJobs != 0 {
		t.Fatalf("MaxConcurrentJobs = %d, want normalized 0", saved.MaxConcurrentJobs)
	}
	if store.saves != 1 || store.settings.WorkerURL != next.WorkerURL {
		t.Fatalf("store = %+v (saves %d)", store.settings, store.saves)
	}

	mu.Lock()
	gotDialed := append([]string(nil), dialed...)
	mu.Unlock()
	if len(gotDialed) != 1 || gotDialed[0] != next.WorkerURL {
		t.Fatalf("dialed = %v", gotDialed)
	}
	if a.WorkerConnected() {
		t.Fatal("worker should not be connected")
	}
	if got := rec.named(EventWorkerStatus); len(got) == 0 {
		t.Fatal("expected worker status push")
	}
	if report := a.GetDiagnostics(); len(report.Items) == 0 {
		t.Fatal("expected refreshed diagnostics")
	}
}

// TestPushWithoutRuntimeIsDropped checks that nothing is emitted before
// the frontend is attached.
func TestPushWithoutRuntimeIsDropped(t *testing.T) {
	a, rec, _, _ := newTestApp(t, domain.Settings{})
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	a.DownloadCompleted("clip.mp4", "/dl/clip.mp4")
	if got := rec.named(EventDownloadComplete); len(got) != 0 {
		t.Fatalf("pushed %d events without runtime", len(got))
	}
	if _, err := a.PickInputFiles(); err == nil {
		t.Fatal("expected dialog error without runtime")
	}
}

// TestSwitchInvokerFallsBackToUnavailable checks the nil guard.
func TestSwitchInvokerFallsBackToUnavailable(t *testing.T) {
	inv := newSwitchInvoker()
	inv.Set(stubInvoker{raw: `"ok"`})
	raw, err := inv.Invoke(context.Background(), worker.CmdTranscribeFile, nil)
	if err != nil || string(raw) != `"ok"` {
		t.Fatalf("invoke = %s, %v", raw, err)
	}

	inv.Set(nil)
	if _, err := inv.Invoke(context.Background(), worker.CmdTranscribeFile, nil); !errors.Is(err, worker.ErrUnavailableRuntime) {
		t.Fatalf("err = %v, want %v", err, worker.ErrUnavailableRuntime)
	}
}

// waitForJobStatus polls until the job reaches the desired status or times out.
func waitForJobStatus(t *testing.T, a *App, jobID string, want domain.JobStatus) domain.TranscriptionJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := a.Jobs.Job(jobID); ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := a.Jobs.Job(jobID)
	t.Fatalf("job %s status = %s, want %s", jobID, job.Status, want)
	return domain.TranscriptionJob{}
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []jobs.Event, want jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}

// TestReloadSettingsAppliesExternalEdits checks that only real changes
// reconnect and notify the UI.
func TestReloadSettingsAppliesExternalEdits(t *testing.T) {
	a, rec, _, _ := newTestApp(t, domain.Settings{})

	dials := 0
	a.connectFn = func(context.Context, string) (*worker.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	a.reloadSettings(a.Settings)
	if dials != 0 || len(rec.named(EventSettings)) != 0 {
		t.Fatalf("unchanged settings: dials=%d pushes=%d", dials, len(rec.named(EventSettings)))
	}

	edited := a.Settings
	edited.WorkerURL = "ws://10.0.0.3:47821/rpc"
	a.reloadSettings(edited)
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
	if got := rec.named(EventSettings); len(got) != 1 {
		t.Fatalf("settings pushes = %d, want 1", len(got))
	}
	if a.Settings.WorkerURL != edited.WorkerURL {
		t.Fatalf("WorkerURL = %s", a.Settings.WorkerURL)
	}
}
