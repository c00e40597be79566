package diagnostics

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"media-grabber/internal/domain"
)

const (
	CheckWorkerURL       = "worker_url"
	CheckWorkerReachable = "worker_reachable"
	CheckDownloadDir     = "download_dir"
	CheckMetricsAddr     = "metrics_addr"

	dialTimeout = 3 * time.Second
)

// DialFunc opens and immediately closes a connection to the worker.
type DialFunc func(ctx context.Context, workerURL string) error

// Checker validates the worker endpoint and the local paths the client
// needs.
type Checker struct {
	dial       DialFunc
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real network and OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		dial:       DialWorker,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	dial DialFunc,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		dial:       dial,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}

// DialWorker performs a websocket handshake with the worker.
func DialWorker(ctx context.Context, workerURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, workerURL, nil)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	urlItem := c.checkWorkerURL(settings.WorkerURL)
	items := []domain.DiagnosticItem{
		urlItem,
		c.checkWorkerReachable(ctx, settings.WorkerURL, urlItem.Status == domain.DiagnosticStatusPass),
		c.checkDownloadDir(settings.DownloadDir),
	}
	if strings.TrimSpace(settings.MetricsAddr) != "" {
		items = append(items, c.checkMetricsAddr(settings.MetricsAddr))
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkWorkerURL validates the configured websocket endpoint.
func (c *Checker) checkWorkerURL(raw string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckWorkerURL,
		Name: "Worker URL",
	}

	if strings.TrimSpace(raw) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Worker URL is empty."
		item.Hint = "Set the websocket address of the worker, for example ws://127.0.0.1:47821/rpc."
		return item
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Worker URL is not a websocket address: %s", raw)
		item.Hint = "Use a ws:// or wss:// URL with a host."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Worker endpoint: %s", raw)
	return item
}

// checkWorkerReachable dials the worker once.
func (c *Checker) checkWorkerReachable(ctx context.Context, raw string, urlValid bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckWorkerReachable,
		Name: "Worker connection",
	}

	if !urlValid {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "Skipped because the worker URL is invalid."
		return item
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := c.dial(dialCtx, raw); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot reach worker at %s: %v", raw, err)
		item.Hint = "Start the worker process. Until it is reachable every download and transcription fails immediately."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "Worker is reachable."
	return item
}

// checkDownloadDir validates download directory existence and write access.
func (c *Checker) checkDownloadDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckDownloadDir,
		Name: "Download directory",
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Download directory is empty."
		item.Hint = "Set a directory where downloaded media can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create download directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Download directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory for downloads."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkMetricsAddr validates the metrics listen address.
func (c *Checker) checkMetricsAddr(addr string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckMetricsAddr,
		Name: "Metrics address",
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid metrics address %q: %v", addr, err)
		item.Hint = "Use host:port, for example 127.0.0.1:9464, or leave it empty to disable metrics."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Metrics served on %s", addr)
	return item
}
