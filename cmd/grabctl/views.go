package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"media-grabber/internal/domain"
	"media-grabber/internal/worker"
)

func downloadRows(entries []domain.OperationEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		progress, size, speed, eta := "", "", "", ""
		if p := entry.Progress; p != nil {
			progress = fmt.Sprintf("%.1f%%", p.Percent)
			size = joinNonEmpty(" / ", p.Downloaded, p.Total)
			speed = p.Speed
			eta = p.ETA
		}
		rows = append(rows, []string{entry.DisplayName, progress, size, speed, eta, entry.StatusText})
	}
	return rows
}

func renderDownloads(entries []domain.OperationEntry) string {
	if len(entries) == 0 {
		return "No active downloads"
	}
	return renderTable(
		[]string{"Name", "Progress", "Size", "Speed", "ETA", "Status"},
		downloadRows(entries),
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func jobRows(jobs []domain.TranscriptionJob) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		detail := job.StatusMessage
		if job.Status == domain.JobStatusError {
			detail = job.ErrorMessage
		}
		rows = append(rows, []string{job.DisplayName, string(job.Platform), string(job.Status), detail})
	}
	return rows
}

func renderJobs(jobs []domain.TranscriptionJob) string {
	return renderTable([]string{"Source", "Platform", "Status", "Detail"}, jobRows(jobs), nil)
}

func diagnosticRows(report domain.DiagnosticReport) [][]string {
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		rows = append(rows, []string{item.Name, strings.ToUpper(string(item.Status)), item.Message, item.Hint})
	}
	return rows
}

func formatRows(formats []domain.VideoFormat) [][]string {
	rows := make([][]string, 0, len(formats))
	for _, f := range formats {
		size := ""
		if f.Filesize > 0 {
			size = humanBytes(f.Filesize)
		}
		audio := "no"
		if f.ACodec != "" && f.ACodec != "none" {
			audio = "yes"
		}
		rows = append(rows, []string{f.FormatID, f.Ext, f.Resolution, f.FormatNote, audio, size})
	}
	return rows
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// printNotifier writes download notifications to the command output and
// counts failures.
type printNotifier struct {
	out    io.Writer
	errOut io.Writer

	mu       sync.Mutex
	failures int
}

func newPrintNotifier(cmd *cobra.Command) *printNotifier {
	return &printNotifier{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
}

func (n *printNotifier) DownloadCompleted(filename, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "Completed: %s (%s)\n", filename, path)
}

func (n *printNotifier) DownloadFailed(target string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures++
	fmt.Fprintf(n.errOut, "Failed: %s: %s\n", target, worker.Message(err))
}

func (n *printNotifier) Failures() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failures
}
