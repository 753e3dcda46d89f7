package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks everything that can be checked without knowing which task
// kinds the host supports.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := ParseDurationField("loop.poll_interval", cfg.Loop.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("loop.alert_threshold", cfg.Loop.AlertThreshold); err != nil {
		return err
	}
	if cfg.Loop.MaxPeriodic < 0 || cfg.Loop.MaxDelays < 0 || cfg.Loop.MaxAsync < 0 {
		return errors.New("loop: table sizes must be >= 0")
	}
	if cfg.Diag.WarnRatePerSec < 0 {
		return errors.New("diag.warn_rate_per_sec must be >= 0")
	}
	if j := cfg.Diag.Journal; j != nil {
		if _, err := ParseDurationField("diag.journal.busy_timeout", j.BusyTimeout); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%s.name required", path)
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate task name %q", path, name)
		}
		seen[name] = true
		if strings.TrimSpace(t.Kind) == "" {
			return fmt.Errorf("%s.kind required", path)
		}
		if _, err := ParseInterval(path+".every", t.Every); err != nil {
			return err
		}
		if _, err := ParseDurationField(path+".startup_delay", t.StartupDelay); err != nil {
			return err
		}
		if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
			return err
		}
	}
	return nil
}
