package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"media-grabber/internal/config"
	"media-grabber/internal/domain"
	"media-grabber/internal/logging"
	"media-grabber/internal/worker"
)

const dialTimeout = 5 * time.Second

type commandContext struct {
	workerFlag   *string
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	settingsOnce sync.Once
	settings     domain.Settings
	settingsErr  error
}

func newCommandContext(workerFlag, configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		workerFlag:   workerFlag,
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

// ensureSettings loads the desktop client's settings file once and applies
// flag overrides on top.
func (c *commandContext) ensureSettings() (domain.Settings, error) {
	c.settingsOnce.Do(func() {
		path := flagValue(c.configFlag)
		if path == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				c.settingsErr = fmt.Errorf("resolve user home: %w", err)
				return
			}
			path = filepath.Join(config.SettingsDir(homeDir), "settings.json")
		}
		settings, err := config.NewJSONStore(path).Load()
		if err != nil {
			c.settingsErr = fmt.Errorf("load settings: %w", err)
			return
		}
		if url := flagValue(c.workerFlag); url != "" {
			settings.WorkerURL = url
		}
		if level := flagValue(c.logLevelFlag); level != "" {
			settings.LogLevel = level
		}
		c.settings = config.Normalize(settings)
	})
	return c.settings, c.settingsErr
}

func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	settings, _ := c.ensureSettings()
	logger, err := logging.New(logging.Options{
		Level:    settings.LogLevel,
		Format:   settings.LogFormat,
		FilePath: settings.LogFile,
		Output:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return slog.Default()
	}
	return logger
}

// withWorker dials the worker, runs fn and closes the connection. Event
// frames are republished to publisher.
func (c *commandContext) withWorker(ctx context.Context, cmd *cobra.Command, publisher worker.Publisher, fn func(*worker.Conn) error) error {
	settings, err := c.ensureSettings()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := worker.Dial(dialCtx, settings.WorkerURL, publisher, c.logger(cmd))
	cancel()
	if err != nil {
		return wrapDialError(err, settings.WorkerURL)
	}
	defer conn.Close()
	return fn(conn)
}

func wrapDialError(err error, url string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to worker: %s refused the connection; verify the worker is running", url)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("connect to worker: %s did not answer within %s", url, dialTimeout)
	default:
		return fmt.Errorf("connect to worker: %w", err)
	}
}

func flagValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
