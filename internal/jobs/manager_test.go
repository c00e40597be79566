package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"media-grabber/internal/clock"
	"media-grabber/internal/domain"
	"media-grabber/internal/worker"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type reply struct {
	raw json.RawMessage
	err error
}

// gatedTranscriber blocks every call until a reply is pushed for its input.
type gatedTranscriber struct {
	mu    sync.Mutex
	gates map[string]chan reply
	calls []string
}

func newGatedTranscriber() *gatedTranscriber {
	return &gatedTranscriber{gates: make(map[string]chan reply)}
}

func (g *gatedTranscriber) gate(input string) chan reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[input]
	if !ok {
		ch = make(chan reply, 1)
		g.gates[input] = ch
	}
	return ch
}

func (g *gatedTranscriber) wait(ctx context.Context, call, input string) (json.RawMessage, error) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()

	select {
	case r := <-g.gate(input):
		return r.raw, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TranscribeFile waits for the reply pushed for path.
func (g *gatedTranscriber) TranscribeFile(ctx context.Context, path string) (json.RawMessage, error) {
	return g.wait(ctx, "file "+path, path)
}

// TranscribeURL waits for the reply pushed for url.
func (g *gatedTranscriber) TranscribeURL(ctx context.Context, platform domain.Platform, method domain.Method, url string) (json.RawMessage, error) {
	return g.wait(ctx, fmt.Sprintf("url %s %s %s", platform, method, url), url)
}

func (g *gatedTranscriber) reply(input, raw string, err error) {
	g.gate(input) <- reply{raw: json.RawMessage(raw), err: err}
}

func (g *gatedTranscriber) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func newTestManager(t *testing.T, tr Transcriber, opts ...Option) (*Manager, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(epoch)
	seq := 0
	var idMu sync.Mutex
	base := []Option{
		WithClock(fc),
		WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			seq++
			return fmt.Sprintf("job-%d", seq)
		}),
	}
	m := NewManager(tr, append(base, opts...)...)
	t.Cleanup(m.Close)
	return m, fc
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want domain.JobStatus) domain.TranscriptionJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := m.Job(jobID); ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := m.Job(jobID)
	t.Fatalf("job %s status = %s, want %s", jobID, job.Status, want)
	return domain.TranscriptionJob{}
}

func mustJob(t *testing.T, m *Manager, jobID string) domain.TranscriptionJob {
	t.Helper()
	job, ok := m.Job(jobID)
	if !ok {
		t.Fatalf("job %s not found", jobID)
	}
	return job
}

// TestSubmitFilesStartsIndependentJobs verifies one processing job per file
// with its own narration and isolated failure.
func TestSubmitFilesStartsIndependentJobs(t *testing.T) {
	tr := newGatedTranscriber()
	m, fc := newTestManager(t, tr)

	created, err := m.Submit(SubmitRequest{
		Platform: domain.PlatformVideo,
		Files:    []string{"/media/a.mp4", "/media/b.mp4", "/media/c.mp4"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d jobs, want 3", len(created))
	}
	for _, job := range created {
		if job.Status != domain.JobStatusProcessing || job.StatusMessage != "Starting..." {
			t.Fatalf("job %s = %s %q, want processing Starting...", job.ID, job.Status, job.StatusMessage)
		}
		if job.Source != domain.SourceLocal {
			t.Fatalf("job %s source = %s, want local", job.ID, job.Source)
		}
	}
	if created[1].DisplayName != "b.mp4" {
		t.Fatalf("display name = %q, want b.mp4", created[1].DisplayName)
	}

	fc.Advance(2500 * time.Millisecond)
	for _, job := range created {
		got := mustJob(t, m, job.ID)
		if got.StatusMessage != "Uploading file..." || got.StatusIcon != IconUpload || got.NarrationStep != 1 {
			t.Fatalf("job %s narration = %q/%s/%d", job.ID, got.StatusMessage, got.StatusIcon, got.NarrationStep)
		}
	}

	if err := m.Fail(created[1].ID, "codec not supported"); err != nil {
		t.Fatalf("fail job 2: %v", err)
	}
	fc.Advance(2500 * time.Millisecond)

	failed := mustJob(t, m, created[1].ID)
	if failed.Status != domain.JobStatusError || failed.ErrorMessage != "codec not supported" {
		t.Fatalf("job 2 = %s %q", failed.Status, failed.ErrorMessage)
	}
	if failed.StatusMessage != "Uploading file..." || failed.NarrationStep != 1 {
		t.Fatalf("narration kept writing into failed job: %q step %d", failed.StatusMessage, failed.NarrationStep)
	}
	if failed.EndedAt == nil {
		t.Fatal("failed job has no end time")
	}
	for _, idx := range []int{0, 2} {
		got := mustJob(t, m, created[idx].ID)
		if got.Status != domain.JobStatusProcessing || got.StatusMessage != "Extracting audio track..." {
			t.Fatalf("job %d = %s %q", idx+1, got.Status, got.StatusMessage)
		}
	}
}

// TestStatusNeverLeavesTerminalState checks the forward-only state machine.
func TestStatusNeverLeavesTerminalState(t *testing.T) {
	tr := newGatedTranscriber()
	m, fc := newTestManager(t, tr)

	created, err := m.Submit(SubmitRequest{Platform: domain.PlatformTikTok, URL: "https://www.tiktok.com/@a/video/1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := created[0].ID

	if err := m.Resolve(id, json.RawMessage(`{"text":"hi"}`)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := m.Fail(id, "late"); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("fail after resolve = %v, want %v", err, ErrJobTerminal)
	}
	if err := m.Resolve(id, nil); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("second resolve = %v, want %v", err, ErrJobTerminal)
	}

	fc.Advance(time.Minute)
	tr.reply("https://www.tiktok.com/@a/video/1", `"ignored"`, nil)
	m.Wait()

	job := mustJob(t, m, id)
	if job.Status != domain.JobStatusCompleted || job.StatusMessage != "Completed" || job.ResultText != "hi" {
		t.Fatalf("job = %s %q %q", job.Status, job.StatusMessage, job.ResultText)
	}

	rank := map[domain.JobStatus]int{
		domain.JobStatusQueued:     0,
		domain.JobStatusProcessing: 1,
		domain.JobStatusCompleted:  2,
		domain.JobStatusError:      2,
	}
	last := -1
	for _, event := range m.Events(0) {
		if event.JobID != id {
			continue
		}
		if rank[event.Status] < last {
			t.Fatalf("status went backwards at seq %d: %s", event.Seq, event.Status)
		}
		last = rank[event.Status]
	}
}

// TestNarrationStopsWhenScriptExhausted verifies the timer is released.
func TestNarrationStopsWhenScriptExhausted(t *testing.T) {
	tr := newGatedTranscriber()
	m, fc := newTestManager(t, tr)

	created, err := m.Submit(SubmitRequest{Platform: domain.PlatformYouTube, Method: domain.MethodNative, URL: "https://youtu.be/x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	fc.Advance(10 * time.Second)
	job := mustJob(t, m, created[0].ID)
	if job.StatusMessage != "Processing subtitles..." || job.NarrationStep != 4 {
		t.Fatalf("narration = %q step %d", job.StatusMessage, job.NarrationStep)
	}
	if fc.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", fc.Pending())
	}
	if got := tr.Calls(); len(got) != 1 || got[0] != "url youtube native https://youtu.be/x" {
		t.Fatalf("calls = %v", got)
	}
}

// TestWorkerOutcomeIsRecorded checks result normalization and failures.
func TestWorkerOutcomeIsRecorded(t *testing.T) {
	tr := newGatedTranscriber()
	m, _ := newTestManager(t, tr)

	created, err := m.Submit(SubmitRequest{Files: []string{"/a.mp4", "/b.mp4", "/c.mp4"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tr.reply("/a.mp4", `{"transcription":"b","title":"T"}`, nil)
	tr.reply("/b.mp4", "", &worker.InvocationError{Message: "ffmpeg exited with status 1"})
	tr.reply("/c.mp4", "", &worker.InvocationError{})
	m.Wait()

	a := mustJob(t, m, created[0].ID)
	if a.Status != domain.JobStatusCompleted || a.ResultText != "b" || a.ResultMetadata["title"] != "T" {
		t.Fatalf("job a = %+v", a)
	}
	if b := mustJob(t, m, created[1].ID); b.ErrorMessage != "ffmpeg exited with status 1" {
		t.Fatalf("job b error = %q", b.ErrorMessage)
	}
	if c := mustJob(t, m, created[2].ID); c.ErrorMessage != "Failed to transcribe" {
		t.Fatalf("job c error = %q", c.ErrorMessage)
	}
	if counts := m.Counts(); counts.Completed != 1 || counts.Failed != 2 {
		t.Fatalf("counts = %+v", counts)
	}
}

// TestUnavailableWorkerFailsJob verifies the fallback invoker.
func TestUnavailableWorkerFailsJob(t *testing.T) {
	m, _ := newTestManager(t, nil)

	created, err := m.Submit(SubmitRequest{Platform: domain.PlatformUniversal, URL: "https://vimeo.com/1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitForStatus(t, m, created[0].ID, domain.JobStatusError)
	if job.ErrorMessage != worker.ErrUnavailableRuntime.Error() {
		t.Fatalf("error = %q", job.ErrorMessage)
	}
}

// TestRemoveClearsSelection verifies removal regardless of status.
func TestRemoveClearsSelection(t *testing.T) {
	tr := newGatedTranscriber()
	m, _ := newTestManager(t, tr)

	created, err := m.Submit(SubmitRequest{Files: []string{"/a.mp4", "/b.mp4"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := created[0].ID
	if err := m.Select(id); err != nil {
		t.Fatalf("select: %v", err)
	}
	if selected, ok := m.Selected(); !ok || selected.ID != id {
		t.Fatalf("selected = %+v, %v", selected, ok)
	}

	if err := m.Remove(id); err != nil {
		t.Fatalf("remove processing job: %v", err)
	}
	if _, ok := m.Selected(); ok {
		t.Fatal("selection survived removal")
	}
	if err := m.Remove(id); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("second remove = %v, want %v", err, ErrJobNotFound)
	}
	if err := m.Select(id); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("select removed = %v, want %v", err, ErrJobNotFound)
	}

	tr.reply("/a.mp4", `"late"`, nil)
	tr.reply("/b.mp4", `"done"`, nil)
	m.Wait()

	remaining := m.Jobs()
	if len(remaining) != 1 || remaining[0].ID != created[1].ID {
		t.Fatalf("jobs = %+v", remaining)
	}
	if err := m.Remove(created[1].ID); err != nil {
		t.Fatalf("remove completed job: %v", err)
	}
	if len(m.Jobs()) != 0 {
		t.Fatal("expected no jobs")
	}
}

// TestSubmitValidation checks rejected submissions.
func TestSubmitValidation(t *testing.T) {
	m, _ := newTestManager(t, newGatedTranscriber())

	cases := []SubmitRequest{
		{Platform: domain.PlatformVideo},
		{Platform: domain.PlatformVideo, Files: []string{" ", ""}},
		{Platform: domain.PlatformYouTube, URL: "   "},
		{Platform: domain.PlatformTikTok, Method: domain.MethodNative, URL: "https://www.tiktok.com/@a/video/1"},
		{Platform: "vimeo", URL: "https://vimeo.com/1"},
		{Platform: domain.PlatformYouTube, Method: "magic", URL: "https://youtu.be/x"},
	}
	for i, req := range cases {
		if _, err := m.Submit(req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: err = %v, want %v", i, err, ErrInvalidRequest)
		}
	}
	if len(m.Jobs()) != 0 {
		t.Fatal("rejected submissions created jobs")
	}
}

// TestMaxConcurrentKeepsExtraJobsQueued verifies the bounded pool.
func TestMaxConcurrentKeepsExtraJobsQueued(t *testing.T) {
	tr := newGatedTranscriber()
	m, _ := newTestManager(t, tr, WithMaxConcurrent(1))

	created, err := m.Submit(SubmitRequest{Files: []string{"/a.mp4", "/b.mp4"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created[0].Status != domain.JobStatusProcessing || created[1].Status != domain.JobStatusQueued {
		t.Fatalf("statuses = %s, %s", created[0].Status, created[1].Status)
	}
	if counts := m.Counts(); counts.Processing != 1 || counts.Queued != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	tr.reply("/a.mp4", `"one"`, nil)
	waitForStatus(t, m, created[1].ID, domain.JobStatusProcessing)
	tr.reply("/b.mp4", `"two"`, nil)
	waitForStatus(t, m, created[1].ID, domain.JobStatusCompleted)
}

// TestListenerReceivesEvents verifies the change feed and listener agree.
func TestListenerReceivesEvents(t *testing.T) {
	var mu sync.Mutex
	var seen []Event
	tr := newGatedTranscriber()
	m, fc := newTestManager(t, tr, WithListener(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	}))

	created, err := m.Submit(SubmitRequest{Platform: domain.PlatformYouTube, URL: "https://youtu.be/x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	fc.Advance(2500 * time.Millisecond)
	tr.reply("https://youtu.be/x", `"text"`, nil)
	waitForStatus(t, m, created[0].ID, domain.JobStatusCompleted)
	m.Wait()

	feed := m.Events(0)
	wantTypes := []EventType{EventTypeStatus, EventTypeStatus, EventTypeNarration, EventTypeResult}
	if len(feed) != len(wantTypes) {
		t.Fatalf("feed = %+v", feed)
	}
	for i, want := range wantTypes {
		if feed[i].Type != want {
			t.Fatalf("event %d type = %s, want %s", i, feed[i].Type, want)
		}
	}
	if feed[2].Message != "Connecting to YouTube..." || feed[2].Icon != IconYouTube {
		t.Fatalf("narration event = %+v", feed[2])
	}
	if len(m.Events(feed[1].Seq)) != 2 {
		t.Fatal("incremental read returned wrong events")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(feed) {
		t.Fatalf("listener saw %d events, feed has %d", len(seen), len(feed))
	}
}

// TestCloseDropsLateOutcomes verifies shutdown releases blocked calls.
func TestCloseDropsLateOutcomes(t *testing.T) {
	tr := newGatedTranscriber()
	fc := clock.NewFake(epoch)
	m := NewManager(tr, WithClock(fc))

	created, err := m.Submit(SubmitRequest{Files: []string{"/a.mp4"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	m.Close()

	if job := mustJob(t, m, created[0].ID); job.Status != domain.JobStatusProcessing {
		t.Fatalf("status after close = %s", job.Status)
	}
	if fc.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", fc.Pending())
	}
	if _, err := m.Submit(SubmitRequest{Files: []string{"/b.mp4"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("submit after close = %v", err)
	}
}

// TestScriptSelection verifies per-platform narration scripts.
func TestScriptSelection(t *testing.T) {
	cases := []struct {
		platform domain.Platform
		method   domain.Method
		first    string
		steps    int
	}{
		{domain.PlatformVideo, "", "Uploading file...", 5},
		{domain.PlatformYouTube, domain.MethodNative, "Connecting to YouTube...", 4},
		{domain.PlatformYouTube, domain.MethodWhisper, "Connecting to YouTube...", 5},
		{domain.PlatformTikTok, domain.MethodWhisper, "Connecting to TikTok...", 5},
		{domain.PlatformUniversal, domain.MethodWhisper, "Analyzing URL...", 5},
		{"other", "", "Analyzing URL...", 5},
	}
	for _, tc := range cases {
		script := Script(tc.platform, tc.method)
		if len(script) != tc.steps || script[0].Message != tc.first {
			t.Fatalf("%s/%s script = %+v", tc.platform, tc.method, script)
		}
	}
	if got := Script(domain.PlatformYouTube, domain.MethodWhisper)[1].Message; got != "Downloading audio stream..." {
		t.Fatalf("youtube whisper step 2 = %q", got)
	}
}

// TestListenerNeverSeesStatusRegress verifies narration ticks racing a
// worker result never reach the listener after the terminal event.
func TestListenerNeverSeesStatusRegress(t *testing.T) {
	var (
		mu       sync.Mutex
		terminal = make(map[string]bool)
		regress  []Event
	)
	tr := newGatedTranscriber()
	m, fc := newTestManager(t, tr,
		WithNarrationInterval(time.Millisecond),
		WithListener(func(e Event) {
			if e.Type == EventTypeNarration {
				time.Sleep(50 * time.Microsecond)
			}
			mu.Lock()
			defer mu.Unlock()
			if terminal[e.JobID] && !e.Status.IsTerminal() {
				regress = append(regress, e)
			}
			if e.Status.IsTerminal() {
				terminal[e.JobID] = true
			}
		}),
	)

	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("/clip-%d.mp4", i)
		created, err := m.Submit(SubmitRequest{Files: []string{path}})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}

		ticked := make(chan struct{})
		go func() {
			defer close(ticked)
			for step := 0; step < 5; step++ {
				fc.Advance(time.Millisecond)
			}
		}()
		tr.reply(path, `"done"`, nil)
		waitForStatus(t, m, created[0].ID, domain.JobStatusCompleted)
		<-ticked
	}
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(regress) > 0 {
		t.Fatalf("listener saw %d events after a terminal one, first %+v", len(regress), regress[0])
	}
	if len(terminal) != 100 {
		t.Fatalf("terminal events for %d jobs, want 100", len(terminal))
	}
}
