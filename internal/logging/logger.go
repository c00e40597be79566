// Package logging builds the structured slog logger shared by all
// components, optionally writing to a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"media-grabber/internal/domain"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// FilePath enables a rotated log file next to stderr output.
	FilePath string
	// Output overrides stderr; used by tests.
	Output io.Writer
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(opts.Level))

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: levelVar}
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console", "text":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromSettings creates a logger from persisted settings.
func NewFromSettings(settings domain.Settings) (*slog.Logger, error) {
	return New(Options{
		Level:    settings.LogLevel,
		Format:   settings.LogFormat,
		FilePath: settings.LogFile,
	})
}

// ParseLevel maps a textual level to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrDefault returns logger, or slog.Default when nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
