// Package clock provides the millisecond time source the scheduler runs on.
//
// Readings are unsigned 64-bit millisecond counts. Elapsed time is computed
// with unsigned subtraction, so a counter that wraps still yields the right
// difference as long as the real interval fits in 64 bits.
//
// In production, use NewSystem(). In tests and simulations, use NewManual()
// for deterministic time control.
package clock

import (
	"sync/atomic"
	"time"
)

// Source supplies monotonic millisecond readings.
type Source interface {
	// Now returns the current reading in milliseconds.
	Now() uint64

	// Elapsed returns Now() - since using wrapping unsigned arithmetic.
	Elapsed(since uint64) uint64

	// Epoch returns the reading taken when the source was created.
	// Startup delays are measured from it.
	Epoch() uint64
}

// Since is Elapsed written as a free function, for sources that only
// expose Now.
func Since(now, since uint64) uint64 { return now - since }

// System is a Source backed by the runtime's monotonic clock.
// Its epoch is the moment NewSystem was called.
type System struct {
	start time.Time
	epoch uint64
}

// NewSystem returns a System clock whose epoch is now.
//
// offset shifts every reading, which lets tests exercise counter wraparound
// against real time by starting just below the uint64 limit.
func NewSystem(offset uint64) *System {
	return &System{start: time.Now(), epoch: offset}
}

func (s *System) Now() uint64 {
	return s.epoch + uint64(time.Since(s.start)/time.Millisecond)
}

func (s *System) Elapsed(since uint64) uint64 { return Since(s.Now(), since) }

func (s *System) Epoch() uint64 { return s.epoch }

// Manual is a Source that only moves when told to.
// It is safe for concurrent use so tests can advance it from helpers.
type Manual struct {
	now   atomic.Uint64
	epoch uint64
}

// NewManual returns a Manual clock reading start, with start as its epoch.
func NewManual(start uint64) *Manual {
	m := &Manual{epoch: start}
	m.now.Store(start)
	return m
}

func (m *Manual) Now() uint64 { return m.now.Load() }

func (m *Manual) Elapsed(since uint64) uint64 { return Since(m.Now(), since) }

func (m *Manual) Epoch() uint64 { return m.epoch }

// Set moves the clock to ms. Moving backwards is allowed and behaves like a
// counter wrap.
func (m *Manual) Set(ms uint64) { m.now.Store(ms) }

// Advance moves the clock forward by d (truncated to whole milliseconds)
// and returns the new reading.
func (m *Manual) Advance(d time.Duration) uint64 {
	if d <= 0 {
		return m.Now()
	}
	return m.AdvanceMs(uint64(d / time.Millisecond))
}

// AdvanceMs moves the clock forward by ms and returns the new reading.
func (m *Manual) AdvanceMs(ms uint64) uint64 { return m.now.Add(ms) }
