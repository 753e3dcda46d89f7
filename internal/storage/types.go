package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the alert journal.
//
// Driver values:
//   - "file": JSON Lines file, one alert per line
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Alert kinds written by the diagnostics recorder.
const (
	AlertSlowCallback = "slow_callback"
	AlertSlowTick     = "slow_tick"
	AlertRejected     = "rejected"
)

// AlertEntry is one scheduler diagnostic.
// Keep it compact and schema-stable.
type AlertEntry struct {
	At     time.Time `json:"at"`
	RunID  string    `json:"run_id,omitempty"`
	Kind   string    `json:"kind"`
	Table  string    `json:"table,omitempty"`
	Name   string    `json:"name,omitempty"`
	TookMS int64     `json:"took_ms,omitempty"`
	Error  string    `json:"error,omitempty"`
}
