package diagnostics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"media-grabber/internal/domain"
)

func okDial(context.Context, string) error { return nil }

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(okDial, os.MkdirAll, os.CreateTemp, os.Remove)

	report := checker.Run(context.Background(), domain.Settings{
		WorkerURL:   "ws://127.0.0.1:47821/rpc",
		DownloadDir: filepath.Join(root, "downloads"),
		MetricsAddr: "127.0.0.1:9464",
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	if len(report.Items) != 4 {
		t.Fatalf("items = %d, want 4", len(report.Items))
	}
	entries, err := os.ReadDir(filepath.Join(root, "downloads"))
	if err != nil {
		t.Fatalf("read download dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("write check left files behind: %v", entries)
	}
}

// TestCheckerRunInvalidSettings validates failure reporting.
func TestCheckerRunInvalidSettings(t *testing.T) {
	dialed := false
	checker := NewCheckerForTests(
		func(context.Context, string) error { dialed = true; return nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{
		WorkerURL:   "http://127.0.0.1:47821/rpc",
		DownloadDir: "",
		MetricsAddr: "9464",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	if dialed {
		t.Fatal("dialed an invalid worker url")
	}
	assertStatusByID(t, report, CheckWorkerURL, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, CheckWorkerReachable, domain.DiagnosticStatusSkip)
	assertStatusByID(t, report, CheckDownloadDir, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, CheckMetricsAddr, domain.DiagnosticStatusFail)
}

// TestCheckerRunUnreachableWorker validates the dial failure hint.
func TestCheckerRunUnreachableWorker(t *testing.T) {
	checker := NewCheckerForTests(
		func(context.Context, string) error { return errors.New("connection refused") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	report := checker.Run(context.Background(), domain.Settings{
		WorkerURL:   "wss://worker.local/rpc",
		DownloadDir: t.TempDir(),
	})

	item, ok := report.Item(CheckWorkerReachable)
	if !ok || item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("worker item = %+v", item)
	}
	if !strings.Contains(item.Message, "connection refused") || item.Hint == "" {
		t.Fatalf("unexpected message/hint: %+v", item)
	}
	if _, ok := report.Item(CheckMetricsAddr); ok {
		t.Fatal("metrics check should be skipped when no address is set")
	}
}

// TestDialWorker validates the real handshake against a websocket server.
func TestDialWorker(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	if err := DialWorker(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := DialWorker(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	item, ok := report.Item(id)
	if !ok {
		t.Fatalf("diagnostic item not found: %s", id)
	}
	if item.Status != want {
		t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
	}
}
