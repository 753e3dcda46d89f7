package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskloop/pkg/logx"
)

// ConfigChange summarizes what differs between two committed configs.
type ConfigChange struct {
	// Sections lists the top-level sections that changed, sorted.
	Sections []string
	// Attrs are safe structured fields for the reload log line.
	Attrs []logx.Field
	// TasksChanged are task names added or modified (including disabled toggles).
	TasksChanged []string
	// TasksRemoved are task names present in the old config but not the new one.
	TasksRemoved []string
	// NeedsRestart is set when a field that is only read at startup changed.
	NeedsRestart bool
}

func (c ConfigChange) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs. Either may be nil.
func SummarizeConfigChange(oldCfg, newCfg *Config) ConfigChange {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var out ConfigChange
	out.Attrs = make([]logx.Field, 0, 12)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		out.Sections = append(out.Sections, "logging")
		out.Attrs = append(out.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Loop
	ol, nl := oldCfg.Loop, newCfg.Loop
	if !reflect.DeepEqual(ol, nl) {
		out.Sections = append(out.Sections, "loop")
		out.Attrs = append(out.Attrs,
			logx.String("loop.poll_interval", strings.TrimSpace(nl.PollInterval)),
			logx.String("loop.alert_threshold", strings.TrimSpace(nl.AlertThreshold)),
		)
		if ol.MaxPeriodic != nl.MaxPeriodic || ol.MaxDelays != nl.MaxDelays || ol.MaxAsync != nl.MaxAsync {
			out.NeedsRestart = true
		}
	}

	// Systemd
	if oldCfg.Systemd != newCfg.Systemd {
		out.Sections = append(out.Sections, "systemd")
		out.Attrs = append(out.Attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
		out.NeedsRestart = true
	}

	// Diag
	if !reflect.DeepEqual(oldCfg.Diag, newCfg.Diag) {
		out.Sections = append(out.Sections, "diag")
		out.Attrs = append(out.Attrs, logx.Int("diag.warn_rate_per_sec", newCfg.Diag.WarnRatePerSec))
		if !reflect.DeepEqual(oldCfg.Diag.Journal, newCfg.Diag.Journal) {
			var driver string
			if newCfg.Diag.Journal != nil {
				driver = strings.TrimSpace(newCfg.Diag.Journal.Driver)
			}
			out.Attrs = append(out.Attrs, logx.String("diag.journal_driver", driver))
			out.NeedsRestart = true
		}
	}

	// Tasks
	out.TasksChanged, out.TasksRemoved = diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(out.TasksChanged) > 0 || len(out.TasksRemoved) > 0 {
		out.Sections = append(out.Sections, "tasks")
		out.Attrs = append(out.Attrs,
			logx.Int("tasks.changed_count", len(out.TasksChanged)),
			logx.Int("tasks.removed_count", len(out.TasksRemoved)),
			logx.Int("tasks.enabled_count", countEnabled(newCfg.Tasks)),
		)
	}

	sort.Strings(out.Sections)
	return out
}

func countEnabled(ts []TaskConfig) int {
	n := 0
	for _, t := range ts {
		if !t.Disabled {
			n++
		}
	}
	return n
}

func taskIndex(ts []TaskConfig) map[string]TaskConfig {
	m := make(map[string]TaskConfig, len(ts))
	for _, t := range ts {
		m[strings.TrimSpace(t.Name)] = t
	}
	return m
}

func diffTasks(oldTs, newTs []TaskConfig) (changed, removed []string) {
	oldM := taskIndex(oldTs)
	newM := taskIndex(newTs)

	for name, n := range newM {
		o, ok := oldM[name]
		if !ok || o != n {
			changed = append(changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(changed)
	sort.Strings(removed)
	return changed, removed
}
