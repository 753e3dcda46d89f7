package scheduler

import "time"

const (
	// MaxNameLen is the longest name kept for periodic callbacks and async
	// functions, in bytes. Periodic entries are keyed by the first MaxNameLen
	// bytes; the name shown in logs and snapshots is cut on a rune boundary.
	MaxNameLen = 19

	DefaultMaxPeriodic    = 20
	DefaultMaxDelays      = 10
	DefaultMaxAsync       = 10
	DefaultAlertThreshold = 2 * time.Millisecond
)

// Config sizes the tables. Zero values fall back to the defaults above.
type Config struct {
	MaxPeriodic int
	MaxDelays   int
	MaxAsync    int

	// AlertThreshold is the callback (and whole tick) duration from which the
	// Observer is told about slow work. It never changes scheduling.
	AlertThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPeriodic <= 0 {
		c.MaxPeriodic = DefaultMaxPeriodic
	}
	if c.MaxDelays <= 0 {
		c.MaxDelays = DefaultMaxDelays
	}
	if c.MaxAsync <= 0 {
		c.MaxAsync = DefaultMaxAsync
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = DefaultAlertThreshold
	}
	return c
}

// Kind names the table an Observer report is about.
type Kind uint8

const (
	KindPeriodic Kind = iota + 1
	KindDelay
	KindAsync
)

func (k Kind) String() string {
	switch k {
	case KindPeriodic:
		return "periodic"
	case KindDelay:
		return "delay"
	case KindAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Observer receives diagnostics. Implementations must not call back into
// the Scheduler and must not block.
type Observer interface {
	// SlowCallback reports a periodic callback whose own run took at least
	// the alert threshold.
	SlowCallback(name string, took time.Duration)
	// SlowTick reports a whole Tick that took longer than the alert threshold.
	SlowTick(took time.Duration)
	// Rejected reports a registration that did not take a slot.
	Rejected(kind Kind, name string, err error)
}

// PeriodicHandle identifies a periodic entry. The zero value matches nothing.
//
// A handle stays valid across re-registrations under the same name until
// ResetPeriodic clears the table.
type PeriodicHandle struct {
	slot uint32 // index + 1
	gen  uint32
}

// Valid reports whether h was issued by a successful registration.
func (h PeriodicHandle) Valid() bool { return h.slot != 0 }

// PeriodicRegistration describes what RegisterPeriodic did.
type PeriodicRegistration struct {
	Handle PeriodicHandle
	// Replaced is true when an entry with the same name was updated in place.
	Replaced bool
	// Truncated is true when the name was longer than MaxNameLen.
	Truncated bool
}

// AsyncFunc is the token for a start/end pair. Registration, duplicate
// detection and deregistration all compare tokens by pointer, so create one
// per operation and keep it.
type AsyncFunc struct {
	start func()
	end   func(ok bool)
}

// NewAsyncFunc pairs a start phase with an end phase.
// Either may be nil; nil phases are skipped.
func NewAsyncFunc(start func(), end func(ok bool)) *AsyncFunc {
	return &AsyncFunc{start: start, end: end}
}

func (f *AsyncFunc) callStart() {
	if f.start != nil {
		f.start()
	}
}

func (f *AsyncFunc) callEnd(ok bool) {
	if f.end != nil {
		f.end(ok)
	}
}

type periodicEntry struct {
	key          string // raw name prefix used for lookups
	name         string
	lastFire     uint64
	minInterval  uint64
	startupDelay uint64
	suspended    bool
	born         uint64 // tick sequence it was (re)registered in, 0 outside ticks
	fn           func()
}

type delaySlot struct {
	occupied bool
	start    uint64
	delay    uint64
	born     uint64
	fn       func(ok bool)
}

type asyncSlot struct {
	occupied   bool
	inProgress bool
	ref        uint64
	startDelay uint64
	timeout    uint64
	born       uint64
	fn         *AsyncFunc
	name       string
}

// ---- Snapshot types ----

type PeriodicInfo struct {
	Name         string
	MinInterval  time.Duration
	StartupDelay time.Duration
	SinceFire    time.Duration
	Suspended    bool
}

type DelayInfo struct {
	Slot      int
	Delay     time.Duration
	Remaining time.Duration
}

type AsyncInfo struct {
	Slot       int
	Name       string
	InProgress bool
	StartDelay time.Duration
	Timeout    time.Duration
	Elapsed    time.Duration
	TimedOut   bool
}

// Snapshot is a point-in-time copy of the tables, for diagnostics.
type Snapshot struct {
	Ticks          uint64
	AlertThreshold time.Duration

	PeriodicCap int
	DelayCap    int
	AsyncCap    int

	Periodic []PeriodicInfo
	Delays   []DelayInfo
	Async    []AsyncInfo
}
