package tasks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"taskloop/internal/config"
	"taskloop/pkg/clock"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/scheduler"
)

// Env is what task callbacks may touch. Everything runs on the loop goroutine.
type Env struct {
	Sched *scheduler.Scheduler
	Clock clock.Source
	Log   logx.Logger

	// Notify sends an sd_notify state. Nil when systemd integration is off.
	Notify func(state string) (bool, error)
	// WatchdogInterval is the unit's WatchdogSec, zero when unset.
	WatchdogInterval time.Duration

	// Extra adds host fields (bus drops, suppressed warnings) to stats lines.
	Extra func() []logx.Field
}

// Spec is a parsed task entry.
type Spec struct {
	Name         string
	Kind         string
	Every        time.Duration
	StartupDelay time.Duration
	Timeout      time.Duration
}

// Builder turns a spec into the periodic callback that implements it.
type Builder func(env Env, spec Spec) (func(), error)

func SpecFromConfig(tc config.TaskConfig) (Spec, error) {
	name := strings.TrimSpace(tc.Name)
	every, err := config.ParseInterval("tasks."+name+".every", tc.Every)
	if err != nil {
		return Spec{}, err
	}
	startup, err := config.ParseDurationField("tasks."+name+".startup_delay", tc.StartupDelay)
	if err != nil {
		return Spec{}, err
	}
	timeout, err := config.ParseDurationField("tasks."+name+".timeout", tc.Timeout)
	if err != nil {
		return Spec{}, err
	}
	return Spec{
		Name:         name,
		Kind:         strings.ToLower(strings.TrimSpace(tc.Kind)),
		Every:        every,
		StartupDelay: startup,
		Timeout:      timeout,
	}, nil
}

type task struct {
	spec      Spec
	fn        func()
	handle    scheduler.PeriodicHandle
	suspended bool
}

// Manager keeps the scheduler's periodic table in line with the configured
// task list. The scheduler has no removal operation, so tasks that disappear
// from the config (or get disabled) are suspended instead. When the table
// fills up and every entry in it is a task, the suspended ones are compacted
// away.
type Manager struct {
	env   Env
	log   logx.Logger
	kinds map[string]Builder

	active map[string]*task
}

func NewManager(env Env) *Manager {
	m := &Manager{
		env:    env,
		log:    env.Log.With(logx.String("comp", "tasks")),
		kinds:  map[string]Builder{},
		active: map[string]*task{},
	}
	for kind, b := range DefaultKinds() {
		m.Register(kind, b)
	}
	return m
}

// Register adds or replaces a task kind.
func (m *Manager) Register(kind string, b Builder) {
	m.kinds[strings.ToLower(strings.TrimSpace(kind))] = b
}

func (m *Manager) Kinds() []string {
	out := make([]string, 0, len(m.kinds))
	for k := range m.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate rejects unknown kinds and names that collide once cut to the
// scheduler's name length.
func (m *Manager) Validate(ts []config.TaskConfig) error {
	keys := make(map[string]string, len(ts))
	for _, tc := range ts {
		kind := strings.ToLower(strings.TrimSpace(tc.Kind))
		if _, ok := m.kinds[kind]; !ok {
			return fmt.Errorf("task %q: unknown kind %q (known: %s)", tc.Name, tc.Kind, strings.Join(m.Kinds(), ", "))
		}
		name := strings.TrimSpace(tc.Name)
		key := scheduler.NameKey(name)
		if other, ok := keys[key]; ok && other != name {
			shown, _ := scheduler.TruncateName(name)
			return fmt.Errorf("tasks %q and %q share the scheduler name %q", other, name, shown)
		}
		keys[key] = name
	}
	return nil
}

// Apply registers new tasks, updates changed ones and suspends the rest.
// Errors for individual tasks are joined; the remaining tasks still apply.
func (m *Manager) Apply(ts []config.TaskConfig) error {
	var errs []error

	// Suspend first so new tasks can reclaim the slots of dropped ones.
	wanted := make(map[string]bool, len(ts))
	for _, tc := range ts {
		if !tc.Disabled {
			wanted[strings.TrimSpace(tc.Name)] = true
		}
	}
	for name, cur := range m.active {
		if !wanted[name] && !cur.suspended {
			m.suspend(name, cur)
		}
	}

	for _, tc := range ts {
		if tc.Disabled {
			continue
		}
		spec, err := SpecFromConfig(tc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cur := m.active[spec.Name]

		switch {
		case cur != nil && cur.spec == spec:
			if cur.suspended {
				m.env.Sched.SuspendPeriodic(spec.Name, false)
				cur.suspended = false
				m.log.Info("task resumed", logx.String("task", spec.Name))
			}
			continue
		case cur != nil && !cur.suspended && onlyIntervalChanged(cur.spec, spec):
			if every := m.interval(spec); m.env.Sched.ChangePeriodicInterval(cur.handle, every) {
				cur.spec = spec
				m.log.Info("task interval changed", logx.String("task", spec.Name), logx.Duration("every", every))
				continue
			}
		}

		if err := m.register(spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the names of tasks currently registered and not suspended.
func (m *Manager) Active() []string {
	out := make([]string, 0, len(m.active))
	for name, t := range m.active {
		if !t.suspended {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) register(spec Spec) error {
	b, ok := m.kinds[spec.Kind]
	if !ok {
		return fmt.Errorf("task %q: unknown kind %q", spec.Name, spec.Kind)
	}
	fn, err := b(m.env, spec)
	if err != nil {
		return fmt.Errorf("task %q: %w", spec.Name, err)
	}
	every := m.interval(spec)
	reg, err := m.env.Sched.RegisterPeriodicWithStartup(fn, every, spec.StartupDelay, spec.Name)
	if errors.Is(err, scheduler.ErrPeriodicTableFull) && m.compact() {
		reg, err = m.env.Sched.RegisterPeriodicWithStartup(fn, every, spec.StartupDelay, spec.Name)
	}
	if err != nil {
		return fmt.Errorf("task %q: %w", spec.Name, err)
	}
	if reg.Truncated {
		m.log.Warn("task name truncated", logx.String("task", spec.Name), logx.Int("max_len", scheduler.MaxNameLen))
	}
	m.active[spec.Name] = &task{spec: spec, fn: fn, handle: reg.Handle}
	m.log.Info("task registered",
		logx.String("task", spec.Name),
		logx.String("kind", spec.Kind),
		logx.Duration("every", every),
		logx.Duration("startup_delay", spec.StartupDelay),
		logx.Bool("replaced", reg.Replaced),
	)
	return nil
}

// interval is the effective period. A watchdog task without one pings at
// half the unit's WatchdogSec.
func (m *Manager) interval(spec Spec) time.Duration {
	if spec.Kind == KindWatchdog && spec.Every == 0 {
		return m.env.WatchdogInterval / 2
	}
	return spec.Every
}

// compact drops suspended tasks from a full periodic table by resetting it and
// registering the running tasks again, which restarts their intervals. It
// refuses when the table holds entries the manager does not own.
func (m *Manager) compact() bool {
	sched := m.env.Sched
	if sched.PeriodicCount() != len(m.active) {
		return false
	}
	keep := make([]string, 0, len(m.active))
	for name, t := range m.active {
		if !t.suspended {
			keep = append(keep, name)
		}
	}
	if len(keep) == len(m.active) {
		return false
	}
	sort.Strings(keep)

	dropped := sched.ResetPeriodic()
	kept := make(map[string]*task, len(keep))
	for _, name := range keep {
		t := m.active[name]
		reg, err := sched.RegisterPeriodicWithStartup(t.fn, m.interval(t.spec), t.spec.StartupDelay, name)
		if err != nil {
			// the table was just emptied, so this needs a nil callback
			m.log.Error("task lost during compaction", logx.String("task", name), logx.Err(err))
			continue
		}
		t.handle = reg.Handle
		kept[name] = t
	}
	m.active = kept
	m.log.Info("periodic table compacted",
		logx.Int("dropped", dropped-len(kept)),
		logx.Int("kept", len(kept)),
	)
	return true
}

func (m *Manager) suspend(name string, t *task) {
	m.env.Sched.SuspendPeriodic(name, true)
	t.suspended = true
	m.log.Info("task suspended", logx.String("task", name))
}

func onlyIntervalChanged(a, b Spec) bool {
	a.Every, b.Every = 0, 0
	return a == b
}
