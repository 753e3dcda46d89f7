package scheduler

import (
	"time"

	logx "taskloop/pkg/logx"
)

// RegisterAsync schedules fn's start phase once startDelay has passed, and
// reports its end phase as failed once timeout has passed, both measured
// from now.
//
// The end phase is not deduplicated: after the timeout, end(false) runs on
// every Tick until fn is deregistered (or completed through Complete).
//
// A token that is already registered is left untouched and
// ErrAsyncDuplicate is returned without calling anything. When every slot is
// taken, end(false) runs before RegisterAsync returns ErrAsyncPoolFull.
func (s *Scheduler) RegisterAsync(fn *AsyncFunc, startDelay, timeout time.Duration, name string) error {
	key, _ := TruncateName(name)
	if fn == nil {
		s.reject(KindAsync, key, ErrNilCallback)
		return ErrNilCallback
	}
	if s.findAsync(fn) >= 0 {
		s.reject(KindAsync, key, ErrAsyncDuplicate)
		return ErrAsyncDuplicate
	}

	idx := -1
	for i := range s.async {
		if !s.async[i].occupied {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.reject(KindAsync, key, ErrAsyncPoolFull)
		fn.callEnd(false)
		return ErrAsyncPoolFull
	}

	s.async[idx] = asyncSlot{
		occupied:   true,
		ref:        s.clk.Now(),
		startDelay: toMillis(startDelay),
		timeout:    toMillis(timeout),
		born:       s.bornNow(),
		fn:         fn,
		name:       key,
	}
	if s.debugEnabled() {
		s.log.Debug("async function registered",
			logx.String("name", key),
			logx.Int("slot", idx),
			logx.Duration("start_delay", startDelay),
			logx.Duration("timeout", timeout),
		)
	}
	return nil
}

// DeregisterAsync frees the slot holding fn without calling either phase.
// It reports whether fn was registered.
func (s *Scheduler) DeregisterAsync(fn *AsyncFunc) bool {
	idx := s.findAsync(fn)
	if idx < 0 {
		return false
	}
	if s.debugEnabled() {
		s.log.Debug("async function deregistered", logx.String("name", s.async[idx].name))
	}
	s.async[idx] = asyncSlot{}
	return true
}

// Complete deregisters fn and then reports ok through its end phase.
// It does nothing and returns false when fn is not registered, so a late
// completion after an explicit deregistration is ignored.
func (s *Scheduler) Complete(fn *AsyncFunc, ok bool) bool {
	if !s.DeregisterAsync(fn) {
		return false
	}
	fn.callEnd(ok)
	return true
}

// ResetAsync frees every async slot without calling either phase and returns
// how many functions were registered.
func (s *Scheduler) ResetAsync() int {
	n := 0
	for i := range s.async {
		if s.async[i].occupied {
			n++
		}
	}
	clear(s.async)
	if s.debugEnabled() {
		s.log.Debug("async table reset", logx.Int("dropped", n))
	}
	return n
}

// AsyncRegistered reports whether fn currently holds a slot.
func (s *Scheduler) AsyncRegistered(fn *AsyncFunc) bool { return s.findAsync(fn) >= 0 }

func (s *Scheduler) findAsync(fn *AsyncFunc) int {
	if fn == nil {
		return -1
	}
	for i := range s.async {
		if s.async[i].occupied && s.async[i].fn == fn {
			return i
		}
	}
	return -1
}

func (s *Scheduler) runAsync() {
	for i := range s.async {
		a := &s.async[i]
		if !a.occupied || s.bornThisTick(a.born) {
			continue
		}
		fn := a.fn
		elapsed := s.clk.Elapsed(a.ref)
		if !a.inProgress && elapsed >= a.startDelay {
			a.inProgress = true
			if s.debugEnabled() {
				s.log.Debug("async function start", logx.String("name", a.name))
			}
			fn.callStart()
		} else if elapsed >= a.timeout {
			if s.debugEnabled() {
				s.log.Debug("async function end: timeout", logx.String("name", a.name))
			}
			fn.callEnd(false)
		}
	}
}
