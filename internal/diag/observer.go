package diag

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskloop/internal/eventbus"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/scheduler"
)

const (
	DefaultWarnRate  = 1
	DefaultWarnBurst = 5
)

// Observer turns scheduler reports into log lines and bus events.
//
// Warnings for slow work go through a token bucket so a callback that is slow
// on every tick doesn't flood the log; every report still reaches the bus.
type Observer struct {
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	suppressed atomic.Uint64
}

var _ scheduler.Observer = (*Observer)(nil)

// NewObserver builds an Observer. bus may be nil. perSec <= 0 uses DefaultWarnRate.
func NewObserver(log logx.Logger, bus eventbus.Bus, perSec int) *Observer {
	if perSec <= 0 {
		perSec = DefaultWarnRate
	}
	return &Observer{
		log:     log.With(logx.String("comp", "diag")),
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(perSec), max(DefaultWarnBurst, perSec)),
	}
}

// SetRate changes the warning rate at runtime.
func (o *Observer) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = DefaultWarnRate
	}
	o.limiter.SetLimit(rate.Limit(perSec))
	o.limiter.SetBurst(max(DefaultWarnBurst, perSec))
}

// Suppressed returns how many warnings the rate limit has swallowed so far.
func (o *Observer) Suppressed() uint64 { return o.suppressed.Load() }

func (o *Observer) SlowCallback(name string, took time.Duration) {
	o.publish(eventbus.Event{Type: eventbus.TypeSlowCallback, Table: scheduler.KindPeriodic.String(), Name: name, Took: took})
	if !o.limiter.Allow() {
		o.suppressed.Add(1)
		return
	}
	o.log.Warn("slow periodic callback",
		logx.String("name", name),
		logx.Duration("took", took),
		logx.Uint64("suppressed", o.suppressed.Load()),
	)
}

func (o *Observer) SlowTick(took time.Duration) {
	o.publish(eventbus.Event{Type: eventbus.TypeSlowTick, Took: took})
	if !o.limiter.Allow() {
		o.suppressed.Add(1)
		return
	}
	o.log.Warn("slow tick", logx.Duration("took", took), logx.Uint64("suppressed", o.suppressed.Load()))
}

func (o *Observer) Rejected(kind scheduler.Kind, name string, err error) {
	o.publish(eventbus.Event{Type: eventbus.TypeRejected, Table: kind.String(), Name: name, Err: err})
	o.log.Info("registration rejected",
		logx.String("table", kind.String()),
		logx.String("name", name),
		logx.Err(err),
	)
}

func (o *Observer) publish(e eventbus.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(e)
}
