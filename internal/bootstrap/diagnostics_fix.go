package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"media-grabber/internal/config"
	"media-grabber/internal/diagnostics"
	"media-grabber/internal/domain"
)

// FixDiagnostic applies a remediation for one failed diagnostic item and
// returns the refreshed report.
func (a *App) FixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	settingsChanged := false
	var fixErr error
	switch id {
	case diagnostics.CheckWorkerURL:
		settings.WorkerURL = config.DefaultWorkerURL
		settingsChanged = true
		fixErr = a.connect(ctx, settings.WorkerURL)
	case diagnostics.CheckWorkerReachable:
		fixErr = a.connect(ctx, settings.WorkerURL)
	case diagnostics.CheckDownloadDir:
		settings, settingsChanged, fixErr = fixDownloadDir(settings)
	case diagnostics.CheckMetricsAddr:
		settings.MetricsAddr = ""
		settingsChanged = true
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(ctx, settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(ctx, settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	var report domain.DiagnosticReport
	if a.checker != nil {
		report = a.checker.Run(ctx, settings)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = report
	}
	return a.Diagnostics
}

// fixDownloadDir falls back to the default directory when unset and makes
// sure the directory exists.
func fixDownloadDir(settings domain.Settings) (domain.Settings, bool, error) {
	changed := false
	if strings.TrimSpace(settings.DownloadDir) == "" {
		settings.DownloadDir = config.DefaultSettings().DownloadDir
		changed = true
	}
	if err := os.MkdirAll(settings.DownloadDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create download directory: %w", err)
	}
	return settings, changed, nil
}
