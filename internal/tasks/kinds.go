package tasks

import (
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskloop/pkg/logx"
	"taskloop/pkg/scheduler"
)

const (
	KindHeartbeat = "heartbeat"
	KindStats     = "stats"
	KindSelfcheck = "selfcheck"
	KindWatchdog  = "watchdog"
)

const defaultSelfcheckTimeout = time.Second

func DefaultKinds() map[string]Builder {
	return map[string]Builder{
		KindHeartbeat: heartbeat,
		KindStats:     stats,
		KindSelfcheck: func(env Env, spec Spec) (func(), error) { return newSelfcheck(env, spec).fire, nil },
		KindWatchdog:  watchdog,
	}
}

func heartbeat(env Env, spec Spec) (func(), error) {
	log := env.Log.With(logx.String("task", spec.Name))
	return func() {
		var uptime time.Duration
		if env.Clock != nil {
			uptime = time.Duration(env.Clock.Elapsed(env.Clock.Epoch())) * time.Millisecond
		}
		log.Info("heartbeat",
			logx.Uint64("ticks", env.Sched.Ticks()),
			logx.Duration("uptime", uptime),
		)
	}, nil
}

func stats(env Env, spec Spec) (func(), error) {
	log := env.Log.With(logx.String("task", spec.Name))
	var lastTicks uint64
	return func() {
		snap := env.Sched.Snapshot()
		suspended := 0
		for _, p := range snap.Periodic {
			if p.Suspended {
				suspended++
			}
		}
		timedOut := 0
		for _, a := range snap.Async {
			if a.TimedOut {
				timedOut++
			}
		}
		fields := []logx.Field{
			logx.Uint64("ticks", snap.Ticks),
			logx.Uint64("ticks_since_last", snap.Ticks-lastTicks),
			logx.Int("periodic", len(snap.Periodic)),
			logx.Int("periodic_cap", snap.PeriodicCap),
			logx.Int("periodic_suspended", suspended),
			logx.Int("delays", len(snap.Delays)),
			logx.Int("delays_cap", snap.DelayCap),
			logx.Int("async", len(snap.Async)),
			logx.Int("async_cap", snap.AsyncCap),
			logx.Int("async_timed_out", timedOut),
			logx.Duration("alert_threshold", snap.AlertThreshold),
		}
		if env.Extra != nil {
			fields = append(fields, env.Extra()...)
		}
		lastTicks = snap.Ticks
		log.Info("scheduler stats", fields...)
	}, nil
}

func watchdog(env Env, spec Spec) (func(), error) {
	if env.Notify == nil {
		return nil, errors.New("watchdog needs systemd.notify enabled")
	}
	if spec.Every == 0 && env.WatchdogInterval <= 0 {
		return nil, errors.New("watchdog has no interval and the unit sets no WatchdogSec")
	}
	log := env.Log.With(logx.String("task", spec.Name))
	return func() {
		if _, err := env.Notify(daemon.SdNotifyWatchdog); err != nil {
			log.Warn("watchdog notify failed", logx.Err(err))
		}
	}, nil
}

// selfcheck drives a round trip through all three tables: the periodic fire
// registers an async function, its start phase requests a delay, and the
// delay completes the async function.
type selfcheck struct {
	s     *scheduler.Scheduler
	log   logx.Logger
	name  string
	probe time.Duration

	timeout  time.Duration
	inflight *scheduler.AsyncFunc

	passed, failed uint64
}

func newSelfcheck(env Env, spec Spec) *selfcheck {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultSelfcheckTimeout
	}
	return &selfcheck{
		s:       env.Sched,
		log:     env.Log.With(logx.String("task", spec.Name)),
		name:    spec.Name,
		probe:   timeout / 4,
		timeout: timeout,
	}
}

func (c *selfcheck) fire() {
	if c.inflight != nil && c.s.AsyncRegistered(c.inflight) {
		c.log.Debug("selfcheck still in flight")
		return
	}
	var fn *scheduler.AsyncFunc
	fn = scheduler.NewAsyncFunc(
		func() {
			// a full delay pool answers false right away, which fails the probe
			_ = c.s.RequestDelay(c.probe, func(ok bool) { c.s.Complete(fn, ok) })
		},
		func(ok bool) { c.finish(fn, ok) },
	)
	c.inflight = fn
	if err := c.s.RegisterAsync(fn, 0, c.timeout, c.name); err != nil {
		c.inflight = nil
	}
}

func (c *selfcheck) finish(fn *scheduler.AsyncFunc, ok bool) {
	// stops the repeated end(false) after a timeout
	c.s.DeregisterAsync(fn)
	if c.inflight == fn {
		c.inflight = nil
	}
	if ok {
		c.passed++
		c.log.Debug("selfcheck passed", logx.Uint64("passed", c.passed))
		return
	}
	c.failed++
	c.log.Warn("selfcheck failed",
		logx.Duration("timeout", c.timeout),
		logx.Uint64("passed", c.passed),
		logx.Uint64("failed", c.failed),
	)
}
