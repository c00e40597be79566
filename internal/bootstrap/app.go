package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-grabber/internal/clock"
	"media-grabber/internal/config"
	"media-grabber/internal/diagnostics"
	"media-grabber/internal/domain"
	"media-grabber/internal/downloads"
	"media-grabber/internal/events"
	"media-grabber/internal/jobs"
	"media-grabber/internal/logging"
	"media-grabber/internal/worker"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Events pushed to the frontend.
const (
	EventJob              = "job:event"
	EventDownloadsUpdate  = "downloads:update"
	EventDownloadComplete = "download:complete"
	EventDownloadError    = "download:error"
	EventWorkerStatus     = "worker:status"
	EventSettings         = "settings:update"
)

const dialTimeout = 5 * time.Second

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the worker connection, download tracking, the
// job manager and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Downloads   *downloads.Service
	Tracker     *downloads.Tracker
	API         *worker.API
	Diagnostics domain.DiagnosticReport
	Logger      *slog.Logger

	hub       *events.Hub
	invoker   *switchInvoker
	checker   *diagnostics.Checker
	assets    fs.FS
	emit      func(ctx context.Context, name string, data ...interface{})
	connectFn func(ctx context.Context, url string) (*worker.Conn, error)

	mu         sync.Mutex
	conn       *worker.Conn
	runtimeCtx context.Context
	metricsSrv *http.Server
	stopWatch  context.CancelFunc
	closed     bool
}

// appOptions carries the dependencies newApp cannot create itself.
type appOptions struct {
	store    config.Store
	settings domain.Settings
	logger   *slog.Logger
	clock    clock.Clock
	checker  *diagnostics.Checker
	assets   fs.FS
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(config.SettingsDir(homeDir), "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger, err := logging.NewFromSettings(settings)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	slog.SetDefault(logger)

	a := newApp(appOptions{
		store:    store,
		settings: settings,
		logger:   logger,
		checker:  diagnostics.NewChecker(),
		assets:   assets,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := a.connect(ctx, settings.WorkerURL); err != nil {
		logger.Warn("worker not reachable, running without it", "url", settings.WorkerURL, "error", err)
	}
	a.Diagnostics = a.checker.Run(ctx, a.Settings)

	if err := a.startMetrics(a.Settings.MetricsAddr); err != nil {
		logger.Warn("metrics server disabled", "addr", a.Settings.MetricsAddr, "error", err)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	a.stopWatch = stopWatch
	go func() {
		if err := config.Watch(watchCtx, store, a.reloadSettings, logger.With("component", "config")); err != nil {
			logger.Warn("settings reload disabled", "error", err)
		}
	}()
	return a, nil
}

func newApp(o appOptions) *App {
	settings := config.Normalize(o.settings)
	logger := logging.OrDefault(o.logger)
	c := o.clock
	if c == nil {
		c = clock.Real()
	}

	a := &App{
		Settings: settings,
		Store:    o.store,
		Logger:   logger,
		hub:      events.NewHub(),
		invoker:  newSwitchInvoker(),
		checker:  o.checker,
		assets:   o.assets,
		emit:     wailsruntime.EventsEmit,
	}
	a.connectFn = func(ctx context.Context, url string) (*worker.Conn, error) {
		return worker.Dial(ctx, url, a.hub, logger)
	}
	a.API = worker.NewAPI(a.invoker)

	timing := settings.Timing
	a.Tracker = downloads.NewTracker(downloads.Options{
		Clock:           c,
		SweepInterval:   config.Millis(timing.SweepIntervalMs),
		StaleAfter:      config.Millis(timing.StaleAfterMs),
		DedupWindow:     config.Millis(timing.DedupWindowMs),
		CompletionDelay: config.Millis(timing.CompletionDelayMs),
		Notifier:        a,
		OnChange:        a.pushDownloads,
		Logger:          logger.With("component", "downloads"),
	})
	a.Tracker.Attach(events.NewChannel(a.hub, logger))
	a.Downloads = downloads.NewService(a.API, a, logger.With("component", "downloads"))
	a.Jobs = jobs.NewManager(a.API,
		jobs.WithClock(c),
		jobs.WithNarrationInterval(config.Millis(timing.NarrationIntervalMs)),
		jobs.WithMaxConcurrent(settings.MaxConcurrentJobs),
		jobs.WithLogger(logger.With("component", "jobs")),
		jobs.WithEventBus(jobs.NewEventBus(1000)),
		jobs.WithListener(a.pushJobEvent),
	)
	return a
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Media Grabber",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and subscribes to download
// events the host runtime relays.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	a.Tracker.Attach(events.NewChannel(events.NewWailsSource(ctx), a.Logger))
}

// Shutdown releases every background resource.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()
	a.Close()
}

// Close stops jobs, downloads, the tracker, the worker connection and the
// metrics server. It is safe to call more than once.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	srv := a.metricsSrv
	a.metricsSrv = nil
	stopWatch := a.stopWatch
	a.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	a.Jobs.Close()
	a.Downloads.Close()
	a.Tracker.Close()
	a.invoker.Set(worker.Unavailable{})
	if conn != nil {
		_ = conn.Close()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// SubmitTranscription creates transcription jobs and starts them.
func (a *App) SubmitTranscription(req jobs.SubmitRequest) ([]domain.TranscriptionJob, error) {
	return a.Jobs.Submit(req)
}

// ListJobs returns all transcription jobs in submission order.
func (a *App) ListJobs() []domain.TranscriptionJob {
	return a.Jobs.Jobs()
}

// JobCounts returns the number of jobs by status.
func (a *App) JobCounts() jobs.Counts {
	return a.Jobs.Counts()
}

// RemoveJob removes a job whatever its status.
func (a *App) RemoveJob(jobID string) error {
	return a.Jobs.Remove(jobID)
}

// SelectJob marks one job as selected; an empty id clears the selection.
func (a *App) SelectJob(jobID string) error {
	return a.Jobs.Select(jobID)
}

// SelectedJob returns the selected job or nil.
func (a *App) SelectedJob() *domain.TranscriptionJob {
	job, ok := a.Jobs.Selected()
	if !ok {
		return nil
	}
	return &job
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Jobs.Events(sinceSeq)
}

// ActiveDownloads returns the tracked downloads.
func (a *App) ActiveDownloads() []domain.OperationEntry {
	return a.Tracker.Snapshot()
}

// DismissDownload hides a tracked download.
func (a *App) DismissDownload(id string) bool {
	return a.Tracker.Dismiss(id)
}

// StartDownload starts a generic download and returns the detected site.
func (a *App) StartDownload(url string) (string, error) {
	return a.Downloads.Start(url)
}

// StartFormatDownload downloads one video in the chosen format.
func (a *App) StartFormatDownload(url, format string) error {
	return a.Downloads.StartFormat(url, format)
}

// GetVideoInfo returns the formats available for a video.
func (a *App) GetVideoInfo(url string) (domain.VideoInfo, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return a.API.VideoInfo(ctx, strings.TrimSpace(url))
}

// SuggestFormat returns the format id preselected for a video.
func (a *App) SuggestFormat(url string) (string, error) {
	info, err := a.GetVideoInfo(url)
	if err != nil {
		return "", err
	}
	best, ok := downloads.BestFormat(info.Formats)
	if !ok {
		return "", fmt.Errorf("no formats listed for %s", url)
	}
	return best.FormatID, nil
}

// GetPlaylist lists the videos of a playlist.
func (a *App) GetPlaylist(url string) (domain.Playlist, error) {
	return a.Downloads.Playlist(context.Background(), url)
}

// DownloadPlaylist downloads the selected videos of a playlist one after
// another and returns how many were queued.
func (a *App) DownloadPlaylist(url, format string, selectedIDs []string) (int, error) {
	playlist, err := a.Downloads.Playlist(context.Background(), url)
	if err != nil {
		return 0, err
	}
	return a.Downloads.StartPlaylist(playlist, format, selectedIDs)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns the checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)
	report := a.checker.Run(context.Background(), settings)

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, reconnects to the worker
// when its URL changed and refreshes diagnostics. Timing and concurrency
// changes apply on the next start.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	a.applySettings(normalized, true)
	return normalized, nil
}

// applySettings swaps in settings, reconnects when the worker URL changed
// (or when force is set and no worker is connected) and reruns diagnostics.
func (a *App) applySettings(settings domain.Settings, force bool) {
	a.mu.Lock()
	previousURL := a.Settings.WorkerURL
	a.Settings = settings
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if settings.WorkerURL != previousURL || (force && !a.WorkerConnected()) {
		if err := a.connect(ctx, settings.WorkerURL); err != nil {
			a.Logger.Warn("worker reconnect failed", "url", settings.WorkerURL, "error", err)
		}
	}

	if a.checker != nil {
		report := a.checker.Run(ctx, settings)
		a.mu.Lock()
		a.Diagnostics = report
		a.mu.Unlock()
	}
}

// reloadSettings applies settings edited outside the app.
func (a *App) reloadSettings(settings domain.Settings) {
	settings = config.Normalize(settings)
	a.mu.Lock()
	unchanged := settings == a.Settings
	a.mu.Unlock()
	if unchanged {
		return
	}
	a.Logger.Info("settings changed on disk", "worker_url", settings.WorkerURL)
	a.applySettings(settings, false)
	a.push(EventSettings, settings)
}

// WorkerConnected reports whether a live worker connection is in use.
func (a *App) WorkerConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// PickInputFiles opens a native dialog for selecting media files.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select media files",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if path = strings.TrimSpace(path); path != "" {
			out = append(out, path)
		}
	}
	return out, nil
}

// PickDownloadDirectory opens a native directory picker for downloads.
func (a *App) PickDownloadDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select download directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenDownloadFolder opens the given path (or the download dir) in the file manager.
func (a *App) OpenDownloadFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.DownloadDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("download path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve download path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// DownloadCompleted pushes a completion notification to the UI.
func (a *App) DownloadCompleted(filename, path string) {
	a.push(EventDownloadComplete, map[string]string{"filename": filename, "path": path})
}

// DownloadFailed pushes a download failure to the UI.
func (a *App) DownloadFailed(target string, err error) {
	a.push(EventDownloadError, map[string]string{"url": target, "error": worker.Message(err)})
}

// connect dials the worker and swaps it in. On failure every call keeps
// failing fast with ErrUnavailableRuntime.
func (a *App) connect(ctx context.Context, url string) error {
	conn, err := a.connectFn(ctx, url)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return errors.New("app closed")
	}
	old := a.conn
	if err != nil {
		a.conn = nil
		a.invoker.Set(worker.Unavailable{})
	} else {
		a.conn = conn
		a.invoker.Set(conn)
	}
	a.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if err != nil {
		a.push(EventWorkerStatus, map[string]any{"connected": false, "error": err.Error()})
		return err
	}

	a.Logger.Info("worker connected", "url", url)
	a.push(EventWorkerStatus, map[string]any{"connected": true})
	go a.watch(conn)
	return nil
}

// watch falls back to the unavailable invoker when conn drops.
func (a *App) watch(conn *worker.Conn) {
	<-conn.Done()

	a.mu.Lock()
	current := a.conn == conn
	if current {
		a.conn = nil
		a.invoker.Set(worker.Unavailable{})
	}
	a.mu.Unlock()

	if current {
		a.Logger.Warn("worker connection lost")
		a.push(EventWorkerStatus, map[string]any{"connected": false})
	}
}

func (a *App) pushJobEvent(event jobs.Event) {
	a.push(EventJob, event)
}

func (a *App) pushDownloads(entries []domain.OperationEntry) {
	a.push(EventDownloadsUpdate, entries)
}

// push emits a runtime event when the frontend is attached.
func (a *App) push(name string, data interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		a.emit(ctx, name, data)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
