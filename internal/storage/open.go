package storage

import (
	"context"
	"errors"
	"strings"

	logx "taskloop/pkg/logx"
)

// Store is the alert journal used by the diagnostics recorder.
type Store interface {
	AppendAlert(ctx context.Context, e AlertEntry) error
	// RecentAlerts returns up to limit entries, newest last.
	RecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file", "jsonl":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
