package main

import (
	"strings"
	"testing"

	"media-grabber/internal/domain"
)

// TestDownloadRows verifies download table rows.
func TestDownloadRows(t *testing.T) {
	rows := downloadRows([]domain.OperationEntry{
		{DisplayName: "a.mp4", Progress: &domain.ProgressSample{Percent: 42.5, Downloaded: "10MiB", Total: "20MiB", Speed: "1MiB/s", ETA: "00:10"}},
		{DisplayName: "b.mp4", StatusText: "Merging formats"},
	})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if got := strings.Join(rows[0], "|"); got != "a.mp4|42.5%|10MiB / 20MiB|1MiB/s|00:10|" {
		t.Fatalf("progress row = %q", got)
	}
	if got := strings.Join(rows[1], "|"); got != "b.mp4|||||Merging formats" {
		t.Fatalf("status row = %q", got)
	}
}

// TestRenderDownloadsEmpty verifies the empty download view.
func TestRenderDownloadsEmpty(t *testing.T) {
	if got := renderDownloads(nil); got != "No active downloads" {
		t.Fatalf("renderDownloads(nil) = %q", got)
	}
}

// TestJobRowsShowErrorMessage ensures failed jobs show their error.
func TestJobRowsShowErrorMessage(t *testing.T) {
	rows := jobRows([]domain.TranscriptionJob{
		{DisplayName: "a.mp4", Platform: domain.PlatformVideo, Status: domain.JobStatusError, StatusMessage: "Starting...", ErrorMessage: "boom"},
	})
	if rows[0][3] != "boom" {
		t.Fatalf("detail = %q, want boom", rows[0][3])
	}
}

// TestHumanBytes verifies byte formatting.
func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Fatalf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

// TestProgressPrinterSkipsUnchangedLines ensures identical progress lines
// print once.
func TestProgressPrinterSkipsUnchangedLines(t *testing.T) {
	var buf strings.Builder
	p := newProgressPrinter(&buf)
	entries := []domain.OperationEntry{{DisplayName: "a.mp4", Progress: &domain.ProgressSample{Percent: 10}}}
	p.update(entries)
	p.update(entries)
	if got := strings.Count(buf.String(), "a.mp4:"); got != 1 {
		t.Fatalf("lines = %d, want 1:\n%s", got, buf.String())
	}
}

// TestIsTerminalRejectsBuffers verifies non-file writers are not terminals.
func TestIsTerminalRejectsBuffers(t *testing.T) {
	var buf strings.Builder
	if isTerminal(&buf) {
		t.Fatal("expected non-file writer not to be a terminal")
	}
}
