package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"media-grabber/internal/config"
	"media-grabber/internal/domain"
	"media-grabber/internal/downloads"
	"media-grabber/internal/events"
	"media-grabber/internal/worker"
)

var errWorkerClosed = errors.New("worker connection closed")

const clearScreen = "\033[H\033[2J"

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show live download progress reported by the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			logger := ctx.logger(cmd)
			hub := events.NewHub()
			redraw := isTerminal(out)

			var mu sync.Mutex
			tracker := newTracker(settings, newPrintNotifier(cmd), func(entries []domain.OperationEntry) {
				mu.Lock()
				defer mu.Unlock()
				if ctx.JSONMode() {
					_ = writeJSON(cmd, entries)
					return
				}
				if redraw {
					fmt.Fprint(out, clearScreen)
				}
				fmt.Fprintln(out, renderDownloads(entries))
			}, logger)
			defer tracker.Close()
			tracker.Attach(events.NewChannel(hub, logger))

			return ctx.withWorker(runCtx, cmd, hub, func(conn *worker.Conn) error {
				if !ctx.JSONMode() {
					fmt.Fprintln(out, "Watching downloads, press Ctrl+C to stop")
				}
				select {
				case <-runCtx.Done():
					return nil
				case <-conn.Done():
					return errWorkerClosed
				}
			})
		},
	}
}

// newTracker builds a download tracker with the configured timings.
func newTracker(settings domain.Settings, notifier downloads.Notifier, onChange func([]domain.OperationEntry), logger *slog.Logger) *downloads.Tracker {
	timing := settings.Timing
	return downloads.NewTracker(downloads.Options{
		SweepInterval:   config.Millis(timing.SweepIntervalMs),
		StaleAfter:      config.Millis(timing.StaleAfterMs),
		DedupWindow:     config.Millis(timing.DedupWindowMs),
		CompletionDelay: config.Millis(timing.CompletionDelayMs),
		Notifier:        notifier,
		OnChange:        onChange,
		Logger:          logger,
	})
}

// progressPrinter prints one line per progress change of each download.
type progressPrinter struct {
	out  io.Writer
	mu   sync.Mutex
	last map[string]string
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, last: make(map[string]string)}
}

func (p *progressPrinter) update(entries []domain.OperationEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, row := range downloadRows(entries) {
		name := row[0]
		line := joinNonEmpty("  ", row[1:]...)
		if line == "" || p.last[name] == line {
			continue
		}
		p.last[name] = line
		fmt.Fprintf(p.out, "%s: %s\n", name, line)
	}
}

// isTerminal reports whether the table can be redrawn in place.
func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
