package scheduler

import (
	"time"

	logx "taskloop/pkg/logx"
)

// RegisterPeriodic registers fn to run at most once every minInterval.
// It is RegisterPeriodicWithStartup with no startup delay.
func (s *Scheduler) RegisterPeriodic(fn func(), minInterval time.Duration, name string) (PeriodicRegistration, error) {
	return s.RegisterPeriodicWithStartup(fn, minInterval, 0, name)
}

// RegisterPeriodicWithStartup inserts or updates the entry keyed by name.
//
// An existing entry whose first MaxNameLen bytes match is overwritten in place
// and resumed. Otherwise the entry is appended, or rejected with
// ErrPeriodicTableFull when the table has no room. Either way the first fire
// waits at least minInterval from now, and never happens before startupDelay
// has passed since the clock epoch.
func (s *Scheduler) RegisterPeriodicWithStartup(fn func(), minInterval, startupDelay time.Duration, name string) (PeriodicRegistration, error) {
	display, truncated := TruncateName(name)
	if fn == nil {
		s.reject(KindPeriodic, display, ErrNilCallback)
		return PeriodicRegistration{Truncated: truncated}, ErrNilCallback
	}

	key := NameKey(name)
	idx := s.findPeriodic(key)
	replaced := idx >= 0
	if !replaced {
		if s.periodicCount >= len(s.periodic) {
			s.reject(KindPeriodic, display, ErrPeriodicTableFull)
			return PeriodicRegistration{Truncated: truncated}, ErrPeriodicTableFull
		}
		idx = s.periodicCount
		s.periodicCount++
	}

	s.periodic[idx] = periodicEntry{
		key:          key,
		name:         display,
		lastFire:     s.clk.Now(),
		minInterval:  toMillis(minInterval),
		startupDelay: toMillis(startupDelay),
		born:         s.bornNow(),
		fn:           fn,
	}

	if s.debugEnabled() {
		s.log.Debug("periodic registered",
			logx.String("name", display),
			logx.Duration("interval", minInterval),
			logx.Duration("startup", startupDelay),
			logx.Bool("replaced", replaced),
			logx.Bool("truncated", truncated),
		)
	}
	return PeriodicRegistration{
		Handle:    PeriodicHandle{slot: uint32(idx) + 1, gen: s.periodicGen},
		Replaced:  replaced,
		Truncated: truncated,
	}, nil
}

// SuspendPeriodic pauses (suspend=true) or resumes the entry called name.
// Resuming restarts its interval from now so time spent suspended does not
// make it overdue. It reports whether the name was found.
func (s *Scheduler) SuspendPeriodic(name string, suspend bool) bool {
	idx := s.findPeriodic(NameKey(name))
	if idx < 0 {
		if s.debugEnabled() {
			s.log.Debug("suspend: no such periodic", logx.String("name", name))
		}
		return false
	}
	e := &s.periodic[idx]
	if !suspend {
		e.lastFire = s.clk.Now()
	}
	e.suspended = suspend
	return true
}

// ChangePeriodicInterval sets a new minimum interval for the entry behind h.
// It reports false for a handle this Scheduler did not issue, or one issued
// before the last ResetPeriodic.
func (s *Scheduler) ChangePeriodicInterval(h PeriodicHandle, minInterval time.Duration) bool {
	idx := int(h.slot) - 1
	if idx < 0 || idx >= s.periodicCount || h.gen != s.periodicGen {
		if s.debugEnabled() {
			s.log.Debug("change interval: no match")
		}
		return false
	}
	s.periodic[idx].minInterval = toMillis(minInterval)
	if s.debugEnabled() {
		s.log.Debug("periodic interval changed",
			logx.String("name", s.periodic[idx].name),
			logx.Duration("interval", minInterval),
		)
	}
	return true
}

// ResetPeriodic empties the periodic table without reallocating it and
// returns how many entries it dropped. Handles issued before the reset stop
// matching. Called from a callback, the remaining entries of the running
// tick are skipped.
func (s *Scheduler) ResetPeriodic() int {
	n := s.periodicCount
	clear(s.periodic[:n])
	s.periodicCount = 0
	s.periodicGen++
	s.current = -1
	if s.debugEnabled() {
		s.log.Debug("periodic table reset", logx.Int("dropped", n))
	}
	return n
}

// PeriodicCount returns the number of live periodic entries.
func (s *Scheduler) PeriodicCount() int { return s.periodicCount }

// CurrentPeriodic returns the name of the periodic callback running right
// now and how long it has been running. ok is false outside a callback.
func (s *Scheduler) CurrentPeriodic() (name string, running time.Duration, ok bool) {
	if s.current < 0 {
		return "", 0, false
	}
	e := &s.periodic[s.current]
	return e.name, fromMillis(s.clk.Elapsed(e.lastFire)), true
}

func (s *Scheduler) findPeriodic(key string) int {
	for i := 0; i < s.periodicCount; i++ {
		if s.periodic[i].key == key {
			return i
		}
	}
	return -1
}

func (s *Scheduler) runPeriodic() {
	// Entries appended by a callback land past n and wait for the next tick.
	n := s.periodicCount
	epoch := s.clk.Epoch()
	for i := 0; i < n; i++ {
		e := &s.periodic[i]
		if e.fn == nil || e.suspended || s.bornThisTick(e.born) {
			continue
		}
		if s.clk.Elapsed(e.lastFire) < e.minInterval || s.clk.Elapsed(epoch) < e.startupDelay {
			continue
		}

		s.current = i
		e.lastFire = s.clk.Now()
		fired, name := e.lastFire, e.name
		e.fn()
		s.current = -1

		if took := s.clk.Elapsed(fired); took >= s.alertMs && s.obs != nil {
			s.obs.SlowCallback(name, fromMillis(took))
		}
	}
}
