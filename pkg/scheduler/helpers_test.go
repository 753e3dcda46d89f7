package scheduler

import (
	"testing"
	"time"

	"taskloop/pkg/clock"
	logx "taskloop/pkg/logx"
)

type slowReport struct {
	name string
	took time.Duration
}

type rejectReport struct {
	kind Kind
	name string
	err  error
}

type recordingObserver struct {
	slow      []slowReport
	slowTicks []time.Duration
	rejected  []rejectReport
}

func (o *recordingObserver) SlowCallback(name string, took time.Duration) {
	o.slow = append(o.slow, slowReport{name: name, took: took})
}

func (o *recordingObserver) SlowTick(took time.Duration) {
	o.slowTicks = append(o.slowTicks, took)
}

func (o *recordingObserver) Rejected(kind Kind, name string, err error) {
	o.rejected = append(o.rejected, rejectReport{kind: kind, name: name, err: err})
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *clock.Manual, *recordingObserver) {
	t.Helper()
	clk := clock.NewManual(0)
	obs := &recordingObserver{}
	return New(cfg, clk, logx.Nop(), WithObserver(obs)), clk, obs
}

// tickAt moves the clock to ms and runs one tick.
func tickAt(s *Scheduler, clk *clock.Manual, ms uint64) {
	clk.Set(ms)
	s.Tick()
}
