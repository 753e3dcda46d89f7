package scheduler

import (
	"time"

	logx "taskloop/pkg/logx"
)

// RequestDelay calls onComplete(true) on the first Tick where strictly more
// than delay has passed since now.
//
// When every slot is taken, onComplete(false) runs before RequestDelay
// returns ErrDelayPoolFull, and no slot is consumed.
func (s *Scheduler) RequestDelay(delay time.Duration, onComplete func(ok bool)) error {
	if onComplete == nil {
		s.reject(KindDelay, "", ErrNilCallback)
		return ErrNilCallback
	}
	idx := -1
	for i := range s.delays {
		if !s.delays[i].occupied {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.reject(KindDelay, "", ErrDelayPoolFull)
		onComplete(false)
		return ErrDelayPoolFull
	}

	s.delays[idx] = delaySlot{
		occupied: true,
		start:    s.clk.Now(),
		delay:    toMillis(delay),
		born:     s.bornNow(),
		fn:       onComplete,
	}
	if s.debugEnabled() {
		s.log.Debug("delay requested", logx.Int("slot", idx), logx.Duration("delay", delay))
	}
	return nil
}

// PendingDelays returns the number of occupied delay slots.
func (s *Scheduler) PendingDelays() int {
	n := 0
	for i := range s.delays {
		if s.delays[i].occupied {
			n++
		}
	}
	return n
}

// ResetDelays frees every delay slot without calling the pending callbacks
// and returns how many were pending.
func (s *Scheduler) ResetDelays() int {
	n := s.PendingDelays()
	clear(s.delays)
	if s.debugEnabled() {
		s.log.Debug("delay pool reset", logx.Int("dropped", n))
	}
	return n
}

func (s *Scheduler) runDelays() {
	for i := range s.delays {
		d := &s.delays[i]
		if !d.occupied || d.fn == nil || s.bornThisTick(d.born) {
			continue
		}
		if s.clk.Elapsed(d.start) <= d.delay {
			continue
		}
		// Free first: the callback may request a new delay and get this slot.
		fn := d.fn
		*d = delaySlot{}
		fn(true)
	}
}
