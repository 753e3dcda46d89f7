package app

import (
	"fmt"
	"strings"
	"time"

	"taskloop/internal/config"
	"taskloop/internal/storage"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/scheduler"
)

const defaultPollInterval = time.Millisecond

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapLoopConfig returns the poll interval and the scheduler config.
func mapLoopConfig(cfg *config.Config) (time.Duration, scheduler.Config, error) {
	lc := cfg.Loop
	poll, err := config.ParseDurationOrDefault("loop.poll_interval", lc.PollInterval, defaultPollInterval)
	if err != nil {
		return 0, scheduler.Config{}, err
	}
	alert, err := config.ParseDurationOrDefault("loop.alert_threshold", lc.AlertThreshold, scheduler.DefaultAlertThreshold)
	if err != nil {
		return 0, scheduler.Config{}, err
	}
	return poll, scheduler.Config{
		MaxPeriodic:    lc.MaxPeriodic,
		MaxDelays:      lc.MaxDelays,
		MaxAsync:       lc.MaxAsync,
		AlertThreshold: alert,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Diag.Journal == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Diag.Journal
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file", "jsonl":
		if path == "" {
			path = "./data/alerts.jsonl"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("diag.journal.path is required when driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("diag.journal.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown diag.journal.driver: %s", sc.Driver)
	}
}
