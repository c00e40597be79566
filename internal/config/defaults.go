package config

import (
	"os"
	"path/filepath"
	"time"

	"media-grabber/internal/domain"
)

// Tracker periods used when settings leave a timing at zero.
const (
	DefaultSweepInterval     = 5 * time.Second
	DefaultStaleAfter        = 30 * time.Second
	DefaultDedupWindow       = 10 * time.Second
	DefaultCompletionDelay   = 2 * time.Second
	DefaultNarrationInterval = 2500 * time.Millisecond

	DefaultWorkerURL = "ws://127.0.0.1:47821/rpc"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		WorkerURL:   DefaultWorkerURL,
		DownloadDir: filepath.Join(homeDir, "Downloads", "media-grabber"),
		LogLevel:    "info",
		LogFormat:   "console",
		Timing:      DefaultTiming(),
	}
}

// DefaultTiming returns the tracker periods in milliseconds.
func DefaultTiming() domain.Timing {
	return domain.Timing{
		SweepIntervalMs:     int(DefaultSweepInterval / time.Millisecond),
		StaleAfterMs:        int(DefaultStaleAfter / time.Millisecond),
		DedupWindowMs:       int(DefaultDedupWindow / time.Millisecond),
		CompletionDelayMs:   int(DefaultCompletionDelay / time.Millisecond),
		NarrationIntervalMs: int(DefaultNarrationInterval / time.Millisecond),
	}
}

// SettingsDir is where settings and logs live under the user's home.
func SettingsDir(homeDir string) string {
	return filepath.Join(homeDir, ".media-grabber")
}
