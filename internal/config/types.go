package config

// Config is the host program's configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown keys are rejected so typos surface at load/reload time.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Loop    LoopConfig    `json:"loop"`
	Systemd SystemdConfig `json:"systemd,omitempty"`
	Diag    DiagConfig    `json:"diag,omitempty"`
	Tasks   []TaskConfig  `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoopConfig controls the polling loop and the scheduler tables.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1ms"
//   - alert_threshold: "2ms"
//   - max_periodic: 20, max_delays: 10, max_async: 10
//
// Table sizes are read once at startup; changing them needs a restart.
// poll_interval and alert_threshold are applied on reload.
type LoopConfig struct {
	PollInterval   string `json:"poll_interval,omitempty"`
	AlertThreshold string `json:"alert_threshold,omitempty"`

	MaxPeriodic int `json:"max_periodic,omitempty"`
	MaxDelays   int `json:"max_delays,omitempty"`
	MaxAsync    int `json:"max_async,omitempty"`
}

// SystemdConfig controls sd_notify integration.
//
// When notify is true the host reports READY/STOPPING, and if the unit has
// WatchdogSec set, a periodic task pings the watchdog at half its period.
type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DiagConfig controls how scheduler diagnostics are surfaced.
type DiagConfig struct {
	// WarnRatePerSec caps slow-callback warnings (default 1/s, burst 5).
	WarnRatePerSec int `json:"warn_rate_per_sec,omitempty"`

	// Journal optionally records every alert.
	//
	// Example:
	//
	//	"journal": { "driver": "sqlite", "path": "./data/alerts.db" }
	Journal *StorageConfig `json:"journal,omitempty"`
}

// StorageConfig selects an alert journal backend ("file", "sqlite", or "none").
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TaskConfig declares a periodic task run by the host.
//
// every accepts a Go duration ("30s"), HH:MM ("00:05" is five minutes) or a
// cron "@every" descriptor ("@every 1m"). Other cron expressions are rejected:
// the scheduler runs on minimum intervals, not wall-clock times.
type TaskConfig struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Every        string `json:"every"`
	StartupDelay string `json:"startup_delay,omitempty"`
	// Timeout bounds the selfcheck task's async round trip.
	Timeout  string `json:"timeout,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}
