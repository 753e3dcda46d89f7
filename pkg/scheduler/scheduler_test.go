package scheduler

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"taskloop/pkg/clock"
	logx "taskloop/pkg/logx"
)

func TestTickPhaseOrder(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	var order []string
	if err := s.RegisterAsync(NewAsyncFunc(func() { order = append(order, "async") }, nil), 0, time.Hour, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestDelay(0, func(bool) { order = append(order, "delay") }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterPeriodic(func() { order = append(order, "periodic") }, 0, "p"); err != nil {
		t.Fatal(err)
	}

	tickAt(s, clk, 1)
	if got := strings.Join(order, ","); got != "periodic,delay,async" {
		t.Fatalf("order = %s, want periodic,delay,async", got)
	}
	if s.Ticks() != 1 {
		t.Fatalf("Ticks = %d, want 1", s.Ticks())
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t, Config{})
	snap := s.Snapshot()
	if snap.PeriodicCap != DefaultMaxPeriodic || snap.DelayCap != DefaultMaxDelays || snap.AsyncCap != DefaultMaxAsync {
		t.Fatalf("caps = %d/%d/%d, want %d/%d/%d",
			snap.PeriodicCap, snap.DelayCap, snap.AsyncCap,
			DefaultMaxPeriodic, DefaultMaxDelays, DefaultMaxAsync)
	}
	if s.AlertThreshold() != DefaultAlertThreshold {
		t.Fatalf("AlertThreshold = %v, want %v", s.AlertThreshold(), DefaultAlertThreshold)
	}
}

func TestSetAlertThreshold(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t, Config{})
	s.SetAlertThreshold(25 * time.Millisecond)
	if s.AlertThreshold() != 25*time.Millisecond {
		t.Fatalf("AlertThreshold = %v, want 25ms", s.AlertThreshold())
	}
	s.SetAlertThreshold(-time.Millisecond)
	if s.AlertThreshold() != DefaultAlertThreshold {
		t.Fatalf("AlertThreshold = %v, want default after a negative value", s.AlertThreshold())
	}
}

func TestZeroAlertThresholdReportsEveryCallback(t *testing.T) {
	s, clk, obs := newTestScheduler(t, Config{})
	s.SetAlertThreshold(0)
	if s.AlertThreshold() != 0 {
		t.Fatalf("AlertThreshold = %v, want 0", s.AlertThreshold())
	}
	if _, err := s.RegisterPeriodic(func() {}, 0, "quick"); err != nil {
		t.Fatal(err)
	}
	tickAt(s, clk, 1)
	if len(obs.slow) != 1 || obs.slow[0].name != "quick" || obs.slow[0].took != 0 {
		t.Fatalf("slow = %+v, want one zero-length report for quick", obs.slow)
	}
}

func TestSlowTickUsesStrictThreshold(t *testing.T) {
	s, clk, obs := newTestScheduler(t, Config{AlertThreshold: 4 * time.Millisecond})
	step := uint64(4)
	if _, err := s.RegisterPeriodic(func() { clk.AdvanceMs(step) }, 0, "work"); err != nil {
		t.Fatal(err)
	}
	tickAt(s, clk, 1)
	if len(obs.slowTicks) != 0 {
		t.Fatalf("tick of exactly the threshold reported: %v", obs.slowTicks)
	}
	if len(obs.slow) != 1 {
		t.Fatalf("callback of exactly the threshold not reported: %v", obs.slow)
	}
	step = 5
	s.Tick()
	if len(obs.slowTicks) != 1 {
		t.Fatalf("slowTicks = %v, want one", obs.slowTicks)
	}
}

func TestSnapshot(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	if _, err := s.RegisterPeriodicWithStartup(func() {}, time.Second, 3*time.Second, "stats"); err != nil {
		t.Fatal(err)
	}
	s.SuspendPeriodic("stats", true)
	if err := s.RequestDelay(100*time.Millisecond, func(bool) {}); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterAsync(NewAsyncFunc(nil, nil), 10*time.Millisecond, time.Second, "probe"); err != nil {
		t.Fatal(err)
	}
	tickAt(s, clk, 40)

	snap := s.Snapshot()
	if len(snap.Periodic) != 1 {
		t.Fatalf("periodic = %+v", snap.Periodic)
	}
	p := snap.Periodic[0]
	if p.Name != "stats" || p.MinInterval != time.Second || p.StartupDelay != 3*time.Second || !p.Suspended || p.SinceFire != 40*time.Millisecond {
		t.Fatalf("periodic info = %+v", p)
	}
	if len(snap.Delays) != 1 || snap.Delays[0].Remaining != 60*time.Millisecond {
		t.Fatalf("delays = %+v, want 60ms remaining", snap.Delays)
	}
	if len(snap.Async) != 1 || snap.Async[0].Name != "probe" || !snap.Async[0].InProgress || snap.Async[0].TimedOut {
		t.Fatalf("async = %+v", snap.Async)
	}
	if snap.Ticks != 1 {
		t.Fatalf("Ticks = %d, want 1", snap.Ticks)
	}
}

func TestTickDoesNotAllocate(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	if _, err := s.RegisterPeriodic(func() {}, 0, "spin"); err != nil {
		t.Fatal(err)
	}
	fn := NewAsyncFunc(func() {}, func(bool) {})
	if err := s.RegisterAsync(fn, 0, 0, "spin"); err != nil {
		t.Fatal(err)
	}
	allocs := testing.AllocsPerRun(100, func() {
		clk.AdvanceMs(1)
		s.Tick()
	})
	if allocs != 0 {
		t.Fatalf("Tick allocated %.1f times per run, want 0", allocs)
	}
}

func TestLookupMissesStayQuietAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	s := New(Config{}, clock.NewManual(0), logx.NewWriter(&buf, "info"))
	allocs := testing.AllocsPerRun(100, func() {
		s.ChangePeriodicInterval(PeriodicHandle{}, time.Second)
		s.SuspendPeriodic("missing", true)
	})
	if allocs != 0 {
		t.Fatalf("lookup misses allocated %.1f times per run, want 0", allocs)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
}

func TestReset(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	ran := 0
	if _, err := s.RegisterPeriodic(func() { ran++ }, 0, "p"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestDelay(0, func(bool) { ran++ }); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterAsync(NewAsyncFunc(func() { ran++ }, func(bool) { ran++ }), 0, 0, "a"); err != nil {
		t.Fatal(err)
	}

	p, d, a := s.Reset()
	if p != 1 || d != 1 || a != 1 {
		t.Fatalf("Reset = %d/%d/%d, want 1/1/1", p, d, a)
	}
	tickAt(s, clk, 10)
	if ran != 0 {
		t.Fatalf("ran = %d callbacks after reset, want 0", ran)
	}
	snap := s.Snapshot()
	if len(snap.Periodic)+len(snap.Delays)+len(snap.Async) != 0 {
		t.Fatalf("snapshot not empty: %+v", snap)
	}
}

func TestDeadlinesAcrossClockWrap(t *testing.T) {
	clk := clock.NewManual(math.MaxUint64 - 10)
	s := New(Config{}, clk, logx.Nop())

	var events []string
	if _, err := s.RegisterPeriodicWithStartup(func() { events = append(events, "periodic") }, 20*time.Millisecond, 18*time.Millisecond, "p"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestDelay(15*time.Millisecond, func(ok bool) { events = append(events, fmt.Sprintf("delay:%v", ok)) }); err != nil {
		t.Fatal(err)
	}
	fn := NewAsyncFunc(
		func() { events = append(events, "start") },
		func(ok bool) { events = append(events, fmt.Sprintf("end:%v", ok)) },
	)
	if err := s.RegisterAsync(fn, 5*time.Millisecond, 25*time.Millisecond, "a"); err != nil {
		t.Fatal(err)
	}

	step := func(ms uint64, want string) {
		t.Helper()
		events = events[:0]
		clk.AdvanceMs(ms)
		s.Tick()
		if got := strings.Join(events, ","); got != want {
			t.Fatalf("at %d ms past start: ran %q, want %q", clk.Elapsed(clk.Epoch()), got, want)
		}
	}
	step(5, "start")       // just below the wrap
	step(11, "delay:true") // now = 5 after wrapping; 16 ms elapsed
	step(4, "periodic")    // 20 ms elapsed
	step(4, "")
	step(1, "end:false") // 25 ms elapsed
	if clk.Now() >= math.MaxUint64-10 {
		t.Fatalf("clock did not wrap: now = %d", clk.Now())
	}
}
