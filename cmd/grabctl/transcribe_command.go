package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"media-grabber/internal/domain"
	"media-grabber/internal/jobs"
	"media-grabber/internal/worker"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var files []string
	var platform string
	var method string

	cmd := &cobra.Command{
		Use:   "transcribe [url]",
		Short: "Transcribe a remote video or local media files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			req := jobs.SubmitRequest{
				Platform: domain.Platform(strings.ToLower(strings.TrimSpace(platform))),
				Method:   domain.Method(strings.ToLower(strings.TrimSpace(method))),
				Files:    files,
			}
			if len(args) == 1 {
				req.URL = args[0]
			}
			switch {
			case req.URL != "" && len(files) > 0:
				return fmt.Errorf("pass either a url or --file, not both")
			case len(files) > 0:
				req.Platform = domain.PlatformVideo
			case req.URL == "":
				return fmt.Errorf("a url or at least one --file is required")
			}

			out := cmd.OutOrStdout()
			logger := ctx.logger(cmd)

			return ctx.withWorker(cmd.Context(), cmd, nil, func(conn *worker.Conn) error {
				var mu sync.Mutex
				names := make(map[string]string)
				listener := func(event jobs.Event) {
					if ctx.JSONMode() || event.Job == nil {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					names[event.JobID] = event.Job.DisplayName
					switch event.Type {
					case jobs.EventTypeNarration, jobs.EventTypeStatus:
						fmt.Fprintf(out, "[%s] %s\n", names[event.JobID], event.Message)
					case jobs.EventTypeError:
						fmt.Fprintf(out, "[%s] failed: %s\n", names[event.JobID], event.Message)
					}
				}

				manager := jobs.NewManager(worker.NewAPI(conn),
					jobs.WithMaxConcurrent(settings.MaxConcurrentJobs),
					jobs.WithLogger(logger.With("component", "jobs")),
					jobs.WithListener(listener),
				)
				defer manager.Close()

				if _, err := manager.Submit(req); err != nil {
					return err
				}
				manager.Wait()

				results := manager.Jobs()
				if ctx.JSONMode() {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
				} else {
					printTranscripts(cmd, results)
				}

				counts := manager.Counts()
				if counts.Failed > 0 {
					return fmt.Errorf("%d of %d transcription(s) failed", counts.Failed, len(results))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&files, "file", nil, "Local media file to transcribe (repeatable)")
	cmd.Flags().StringVar(&platform, "platform", "", "Source platform: youtube, tiktok or universal (default universal)")
	cmd.Flags().StringVar(&method, "method", "", "youtube only: native captions or whisper (default whisper)")
	return cmd
}

func printTranscripts(cmd *cobra.Command, results []domain.TranscriptionJob) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderJobs(results))
	for _, job := range results {
		if job.Status != domain.JobStatusCompleted {
			continue
		}
		title := job.DisplayName
		if t, ok := job.ResultMetadata["title"].(string); ok && t != "" {
			title = t
		}
		fmt.Fprintf(out, "\n== %s ==\n%s\n", title, job.ResultText)
	}
}
