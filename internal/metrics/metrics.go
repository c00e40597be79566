// Package metrics exposes Prometheus collectors for the download registry,
// the transcription job manager and the worker connection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DownloadEventsTotal counts inbound worker events by topic.
	DownloadEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabber_download_events_total",
			Help: "Total number of download events received by topic",
		},
		[]string{"topic"},
	)

	// ActiveDownloads is the current number of registry entries.
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grabber_active_downloads",
			Help: "Number of downloads currently tracked by the registry",
		},
	)

	// SweptDownloadsTotal counts entries evicted by the staleness sweeper.
	SweptDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grabber_swept_downloads_total",
			Help: "Total number of stale completed downloads evicted by the sweeper",
		},
	)

	// CompletionNotificationsTotal counts completion events by outcome (notified/suppressed).
	CompletionNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabber_completion_notifications_total",
			Help: "Total number of download completion events by notification outcome",
		},
		[]string{"outcome"},
	)

	// JobsTotal counts transcription jobs reaching a terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabber_transcription_jobs_total",
			Help: "Total number of transcription jobs by terminal status",
		},
		[]string{"status"},
	)

	// JobsInFlight is the number of jobs currently processing.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grabber_transcription_jobs_in_flight",
			Help: "Number of transcription jobs with an outstanding worker call",
		},
	)

	// WorkerInvocationsTotal counts worker commands by outcome (success/error/unavailable).
	WorkerInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabber_worker_invocations_total",
			Help: "Total number of worker invocations by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	// WorkerInvocationDuration observes worker round trips in seconds.
	WorkerInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grabber_worker_invocation_duration_seconds",
			Help:    "Worker invocation duration in seconds by command",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"command"},
	)
)

// RecordEvent marks one inbound event for topic.
func RecordEvent(topic string) {
	DownloadEventsTotal.WithLabelValues(topic).Inc()
}

// RecordCompletion records whether a completion event produced a notification.
func RecordCompletion(notified bool) {
	outcome := "notified"
	if !notified {
		outcome = "suppressed"
	}
	CompletionNotificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordInvocation records the outcome and duration of one worker call.
func RecordInvocation(command, outcome string, durationSeconds float64) {
	WorkerInvocationsTotal.WithLabelValues(command, outcome).Inc()
	WorkerInvocationDuration.WithLabelValues(command).Observe(durationSeconds)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
