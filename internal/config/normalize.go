package config

import (
	"strings"
	"time"

	"media-grabber/internal/domain"
)

// Normalize trims user inputs and fills unset values with defaults.
func Normalize(settings domain.Settings) domain.Settings {
	settings.WorkerURL = strings.TrimSpace(settings.WorkerURL)
	settings.DownloadDir = strings.TrimSpace(settings.DownloadDir)
	settings.LogFile = strings.TrimSpace(settings.LogFile)
	settings.MetricsAddr = strings.TrimSpace(settings.MetricsAddr)

	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))
	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}
	settings.LogFormat = strings.ToLower(strings.TrimSpace(settings.LogFormat))
	if settings.LogFormat == "" {
		settings.LogFormat = "console"
	}
	if settings.MaxConcurrentJobs < 0 {
		settings.MaxConcurrentJobs = 0
	}

	defaults := DefaultTiming()
	t := &settings.Timing
	t.SweepIntervalMs = positiveOr(t.SweepIntervalMs, defaults.SweepIntervalMs)
	t.StaleAfterMs = positiveOr(t.StaleAfterMs, defaults.StaleAfterMs)
	t.DedupWindowMs = positiveOr(t.DedupWindowMs, defaults.DedupWindowMs)
	t.CompletionDelayMs = positiveOr(t.CompletionDelayMs, defaults.CompletionDelayMs)
	t.NarrationIntervalMs = positiveOr(t.NarrationIntervalMs, defaults.NarrationIntervalMs)
	return settings
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
