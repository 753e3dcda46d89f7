package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/xid"

	"taskloop/internal/config"
	"taskloop/internal/diag"
	"taskloop/internal/eventbus"
	"taskloop/internal/runtime/supervisor"
	"taskloop/internal/storage"
	"taskloop/internal/tasks"
	"taskloop/pkg/clock"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/scheduler"
)

// App hosts one Scheduler and drives it from a polling loop.
//
// Only the loop goroutine touches the scheduler: reloaded configs arrive on a
// channel and are applied between ticks.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	runID xid.ID

	clk   clock.Source
	sched *scheduler.Scheduler
	obs   *diag.Observer
	tasks *tasks.Manager

	notify  bool
	poll    time.Duration
	applied *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	runID := xid.New()
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("run_id", runID.String()))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	poll, schedCfg, err := mapLoopConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	// Alert journal (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("alert journal enabled", logx.String("driver", sc.Driver))
	}

	clk := clock.NewSystem(0)
	obs := diag.NewObserver(log, bus, cfg.Diag.WarnRatePerSec)
	sched := scheduler.New(schedCfg, clk, log.With(logx.String("comp", "scheduler")), scheduler.WithObserver(obs))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		runID:   runID,
		clk:     clk,
		sched:   sched,
		obs:     obs,
		notify:  cfg.Systemd.Notify,
		poll:    poll,
	}

	env := tasks.Env{
		Sched: sched,
		Clock: clk,
		Log:   log,
		Extra: a.statsFields,
	}
	if a.notify {
		env.Notify = func(state string) (bool, error) { return daemon.SdNotify(false, state) }
		if wd, err := daemon.SdWatchdogEnabled(false); err != nil {
			a.log.Warn("watchdog env invalid", logx.Err(err))
		} else {
			env.WatchdogInterval = wd
		}
	}
	a.tasks = tasks.NewManager(env)

	if err := a.tasks.Validate(cfg.Tasks); err != nil {
		a.close()
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		if _, _, err := mapLoopConfig(c); err != nil {
			return err
		}
		return a.tasks.Validate(c.Tasks)
	})

	return a, nil
}

// Scheduler exposes the scheduler so embedders can register their own work
// before Run. It must not be used from other goroutines once Run starts.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Tasks exposes the task manager for registering extra kinds before Run.
// New has already checked the startup config against the built-in kinds;
// registered kinds are accepted from the next reload on.
func (a *App) Tasks() *tasks.Manager { return a.tasks }

// Run blocks until ctx is done, then shuts down and returns.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if a.store != nil {
		rec := diag.NewRecorder(a.bus, a.store, a.runID.String(), a.log)
		a.sup.Go("journal", rec.Run)
	}

	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 30*time.Second)

	cfg := a.cfgm.Get()
	if err := a.tasks.Apply(cfg.Tasks); err != nil {
		a.log.Warn("some tasks were not registered", logx.Err(err))
	}
	a.applied = cfg

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("loop started",
		logx.Duration("poll_interval", a.poll),
		logx.Duration("alert_threshold", a.sched.AlertThreshold()),
		logx.Int("tasks", len(a.tasks.Active())),
	)

	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

LOOP:
	for {
		select {
		case <-ctx.Done():
			break LOOP
		case <-ticker.C:
			a.sched.Tick()
		case newCfg, ok := <-sub:
			if !ok {
				continue
			}
			// Coalesce bursts: keep only the latest config in the channel.
		DRAIN:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break DRAIN
				}
			}
			prev := a.poll
			a.applyConfig(newCfg)
			if a.poll != prev {
				ticker.Reset(a.poll)
			}
		}
	}

	return a.shutdown()
}

func (a *App) applyConfig(newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	change := config.SummarizeConfigChange(a.applied, newCfg)
	a.applied = newCfg
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if poll, schedCfg, err := mapLoopConfig(newCfg); err != nil {
		a.log.Warn("invalid loop config; keeping previous", logx.Err(err))
	} else {
		a.poll = poll
		a.sched.SetAlertThreshold(schedCfg.AlertThreshold)
	}
	a.obs.SetRate(newCfg.Diag.WarnRatePerSec)

	if err := a.tasks.Apply(newCfg.Tasks); err != nil {
		a.log.Warn("some tasks were not applied", logx.Err(err))
	}
	if change.NeedsRestart {
		a.log.Warn("config change needs a restart to take full effect (table sizes, systemd or journal)")
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded})
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) shutdown() error {
	a.sdNotify(daemon.SdNotifyStopping)
	periodic, delays, async := a.sched.Reset()
	a.log.Info("loop stopping",
		logx.Uint64("ticks", a.sched.Ticks()),
		logx.Int("periodic", periodic),
		logx.Int("pending_delays", delays),
		logx.Int("pending_async", async),
	)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.sup.Stop(stopCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("background goroutines did not stop in time", logx.Int64("active", a.sup.Counters().Active))
	}
	a.close()
	return err
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("alert journal close failed", logx.Err(err))
		}
	}
	_ = a.logs.Close()
}

func (a *App) sdNotify(state string) {
	if !a.notify {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		a.log.Debug("sd_notify not supported (NOTIFY_SOCKET unset)", logx.String("state", state))
	}
}

func (a *App) statsFields() []logx.Field {
	fields := []logx.Field{
		logx.Uint64("bus_dropped", a.bus.Dropped()),
		logx.Uint64("warnings_suppressed", a.obs.Suppressed()),
	}
	if a.sup != nil {
		c := a.sup.Counters()
		fields = append(fields, logx.Int64("goroutines", c.Active))
	}
	return fields
}
