package scheduler

import (
	"time"
	"unicode/utf8"

	"taskloop/pkg/clock"
	logx "taskloop/pkg/logx"
)

type Scheduler struct {
	clk clock.Source
	log logx.Logger
	obs Observer

	alertMs uint64

	periodic      []periodicEntry
	periodicCount int
	periodicGen   uint32 // bumped by ResetPeriodic to invalidate handles
	current       int // index of the periodic callback being run, -1 when idle

	delays []delaySlot
	async  []asyncSlot

	seq     uint64 // tick sequence, incremented when a tick starts
	ticking bool
}

type Option func(*Scheduler)

// WithObserver installs a diagnostics observer.
func WithObserver(obs Observer) Option {
	return func(s *Scheduler) { s.obs = obs }
}

// New allocates every table up front. Nothing on the Tick path allocates
// afterwards.
func New(cfg Config, clk clock.Source, log logx.Logger, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		clk:      clk,
		log:      log,
		alertMs:  toMillis(cfg.AlertThreshold),
		periodic: make([]periodicEntry, cfg.MaxPeriodic),
		current:  -1,
		delays:   make([]delaySlot, cfg.MaxDelays),
		async:    make([]asyncSlot, cfg.MaxAsync),
	}
	for _, o := range opts {
		o(s)
	}
	s.log.Debug("scheduler created",
		logx.Int("periodic_cap", cfg.MaxPeriodic),
		logx.Int("delay_cap", cfg.MaxDelays),
		logx.Int("async_cap", cfg.MaxAsync),
		logx.Duration("alert", cfg.AlertThreshold),
	)
	return s
}

// Tick runs one pass of every table: periodic callbacks, then delays, then
// async functions. Entries registered by a callback during this pass are
// first considered on the next Tick.
func (s *Scheduler) Tick() {
	start := s.clk.Now()
	s.seq++
	s.ticking = true

	s.runPeriodic()
	s.runDelays()
	s.runAsync()

	s.ticking = false
	if took := s.clk.Elapsed(start); took > s.alertMs && s.obs != nil {
		s.obs.SlowTick(fromMillis(took))
	}
}

// Reset empties all three tables. No callback runs.
func (s *Scheduler) Reset() (periodic, delays, async int) {
	return s.ResetPeriodic(), s.ResetDelays(), s.ResetAsync()
}

// Ticks returns how many times Tick has started.
func (s *Scheduler) Ticks() uint64 { return s.seq }

// SetAlertThreshold changes the slow-callback threshold. Zero reports every
// callback; a negative value restores the default.
func (s *Scheduler) SetAlertThreshold(d time.Duration) {
	if d < 0 {
		d = DefaultAlertThreshold
	}
	s.alertMs = toMillis(d)
}

func (s *Scheduler) AlertThreshold() time.Duration { return fromMillis(s.alertMs) }

// bornNow is the tick stamp for an entry registered at this moment.
// Entries stamped with the running tick are skipped until the next one.
func (s *Scheduler) bornNow() uint64 {
	if s.ticking {
		return s.seq
	}
	return 0
}

func (s *Scheduler) bornThisTick(born uint64) bool {
	return s.ticking && born != 0 && born == s.seq
}

func (s *Scheduler) reject(kind Kind, name string, err error) {
	if s.debugEnabled() {
		s.log.Debug("registration rejected", logx.String("kind", kind.String()), logx.String("name", name), logx.Err(err))
	}
	if s.obs != nil {
		s.obs.Rejected(kind, name, err)
	}
}

// debugEnabled keeps field closures off the callback path when debug is off.
func (s *Scheduler) debugEnabled() bool { return s.log.Enabled(logx.LevelDebug) }

func toMillis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}

func fromMillis(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// NameKey is the lookup key for a periodic name: its first MaxNameLen bytes,
// even when that splits a rune. Two names address the same entry exactly when
// their keys are equal.
func NameKey(name string) string {
	if len(name) <= MaxNameLen {
		return name
	}
	return name[:MaxNameLen]
}

// TruncateName cuts name to at most MaxNameLen bytes without splitting a rune.
// The result is for display; lookups compare the raw prefix.
func TruncateName(name string) (string, bool) {
	if len(name) <= MaxNameLen {
		return name, false
	}
	cut := MaxNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut], true
}
