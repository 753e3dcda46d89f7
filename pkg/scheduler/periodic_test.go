package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRegisterPeriodicUpToCapacity(t *testing.T) {
	s, _, obs := newTestScheduler(t, Config{MaxPeriodic: 3})
	for i := 0; i < 3; i++ {
		reg, err := s.RegisterPeriodic(func() {}, time.Second, fmt.Sprintf("cb%d", i))
		if err != nil {
			t.Fatalf("register cb%d: %v", i, err)
		}
		if !reg.Handle.Valid() || reg.Replaced {
			t.Fatalf("register cb%d = %+v, want fresh valid handle", i, reg)
		}
		if s.PeriodicCount() != i+1 {
			t.Fatalf("PeriodicCount = %d, want %d", s.PeriodicCount(), i+1)
		}
	}

	reg, err := s.RegisterPeriodic(func() {}, time.Second, "overflow")
	if !errors.Is(err, ErrPeriodicTableFull) {
		t.Fatalf("err = %v, want ErrPeriodicTableFull", err)
	}
	if reg.Handle.Valid() {
		t.Fatal("rejected registration returned a valid handle")
	}
	if s.PeriodicCount() != 3 {
		t.Fatalf("PeriodicCount = %d, want 3", s.PeriodicCount())
	}
	if len(obs.rejected) != 1 || obs.rejected[0].kind != KindPeriodic || obs.rejected[0].name != "overflow" {
		t.Fatalf("rejected = %+v, want one periodic rejection for overflow", obs.rejected)
	}

	// A known name still updates in place when the table is full.
	reg, err = s.RegisterPeriodic(func() {}, 2*time.Second, "cb1")
	if err != nil || !reg.Replaced {
		t.Fatalf("re-register on full table = %+v, %v; want replaced", reg, err)
	}
}

func TestReRegisterResetsBaseline(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	fires := 0
	first, err := s.RegisterPeriodic(func() { fires++ }, 100*time.Millisecond, "blink")
	if err != nil {
		t.Fatal(err)
	}

	clk.Set(90)
	again, err := s.RegisterPeriodic(func() { fires++ }, 100*time.Millisecond, "blink")
	if err != nil {
		t.Fatal(err)
	}
	if !again.Replaced || again.Handle != first.Handle {
		t.Fatalf("re-register = %+v, want replaced with handle %+v", again, first.Handle)
	}
	if s.PeriodicCount() != 1 {
		t.Fatalf("PeriodicCount = %d, want 1", s.PeriodicCount())
	}

	tickAt(s, clk, 110)
	if fires != 0 {
		t.Fatalf("fired %d times 20ms after re-registration", fires)
	}
	tickAt(s, clk, 190)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1 at 100ms after re-registration", fires)
	}
}

func TestPeriodicMinInterval(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	var at []uint64
	if _, err := s.RegisterPeriodic(func() { at = append(at, clk.Now()) }, 100*time.Millisecond, "poll"); err != nil {
		t.Fatal(err)
	}

	for _, ms := range []uint64{0, 50, 99, 100, 150, 199, 200, 250, 330} {
		tickAt(s, clk, ms)
	}
	want := []uint64{100, 200, 330}
	if fmt.Sprint(at) != fmt.Sprint(want) {
		t.Fatalf("fired at %v, want %v", at, want)
	}
}

func TestPeriodicStartupDelayFromEpoch(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	clk.Set(300)
	fires := 0
	if _, err := s.RegisterPeriodicWithStartup(func() { fires++ }, 10*time.Millisecond, 500*time.Millisecond, "late"); err != nil {
		t.Fatal(err)
	}

	tickAt(s, clk, 320)
	tickAt(s, clk, 499)
	if fires != 0 {
		t.Fatalf("fired %d times before the startup delay", fires)
	}
	// The startup delay counts from the clock epoch (0), not from registration.
	tickAt(s, clk, 500)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1 at epoch+500ms", fires)
	}
}

func TestPeriodicSlotOrder(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := s.RegisterPeriodic(func() { order = append(order, name) }, 10*time.Millisecond, name); err != nil {
			t.Fatal(err)
		}
	}
	tickAt(s, clk, 10)
	if got := strings.Join(order, ","); got != "a,b,c" {
		t.Fatalf("order = %s, want a,b,c", got)
	}
}

func TestSuspendAndResume(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	fires := 0
	if _, err := s.RegisterPeriodic(func() { fires++ }, 100*time.Millisecond, "sensor"); err != nil {
		t.Fatal(err)
	}
	if !s.SuspendPeriodic("sensor", true) {
		t.Fatal("suspend: name not found")
	}
	for _, ms := range []uint64{100, 500, 1000} {
		tickAt(s, clk, ms)
	}
	if fires != 0 {
		t.Fatalf("suspended callback fired %d times", fires)
	}

	clk.Set(1000)
	if !s.SuspendPeriodic("sensor", false) {
		t.Fatal("resume: name not found")
	}
	tickAt(s, clk, 1050)
	if fires != 0 {
		t.Fatal("resumed callback fired before a full interval")
	}
	tickAt(s, clk, 1100)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1", fires)
	}

	if s.SuspendPeriodic("missing", true) {
		t.Fatal("suspend of unknown name reported found")
	}
}

func TestChangePeriodicInterval(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	fires := 0
	reg, err := s.RegisterPeriodic(func() { fires++ }, time.Second, "report")
	if err != nil {
		t.Fatal(err)
	}
	if !s.ChangePeriodicInterval(reg.Handle, 50*time.Millisecond) {
		t.Fatal("ChangePeriodicInterval returned false for a live handle")
	}
	tickAt(s, clk, 50)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1 after shortening the interval", fires)
	}

	if s.ChangePeriodicInterval(PeriodicHandle{}, time.Millisecond) {
		t.Fatal("zero handle matched an entry")
	}
	if s.ChangePeriodicInterval(PeriodicHandle{slot: 7}, time.Millisecond) {
		t.Fatal("unissued handle matched an entry")
	}
}

func TestPeriodicNameTruncation(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	long := "temperature-sensor-poll-primary"
	reg, err := s.RegisterPeriodic(func() {}, time.Second, long)
	if err != nil {
		t.Fatal(err)
	}
	if !reg.Truncated {
		t.Fatal("expected Truncated for a long name")
	}
	snap := s.Snapshot()
	if got := snap.Periodic[0].Name; got != long[:MaxNameLen] {
		t.Fatalf("stored name = %q, want %q", got, long[:MaxNameLen])
	}

	// Names equal over the kept prefix address the same entry.
	reg, err = s.RegisterPeriodic(func() {}, time.Second, long[:MaxNameLen]+"-secondary")
	if err != nil || !reg.Replaced {
		t.Fatalf("prefix-equal name = %+v, %v; want replaced", reg, err)
	}
	if !s.SuspendPeriodic(long, true) {
		t.Fatal("suspend by the untruncated name did not match")
	}
}

func TestTruncateNameKeepsRunes(t *testing.T) {
	t.Parallel()
	name := strings.Repeat("é", 11) // 22 bytes
	got, truncated := TruncateName(name)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if got != strings.Repeat("é", 9) {
		t.Fatalf("TruncateName = %q (%d bytes), want 9 runes", got, len(got))
	}
	if got, truncated := TruncateName("short"); got != "short" || truncated {
		t.Fatalf("TruncateName(short) = %q, %v", got, truncated)
	}
}

func TestRegisterPeriodicNilCallback(t *testing.T) {
	s, _, obs := newTestScheduler(t, Config{})
	if _, err := s.RegisterPeriodic(nil, time.Second, "nil"); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("err = %v, want ErrNilCallback", err)
	}
	if s.PeriodicCount() != 0 || len(obs.rejected) != 1 {
		t.Fatalf("count = %d, rejected = %d; want 0, 1", s.PeriodicCount(), len(obs.rejected))
	}
}

func TestPeriodicRegisteredDuringTickWaits(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	var order []string
	registered := false
	_, err := s.RegisterPeriodic(func() {
		order = append(order, "parent")
		if !registered {
			registered = true
			_, _ = s.RegisterPeriodic(func() { order = append(order, "child") }, 0, "child")
		}
	}, 0, "parent")
	if err != nil {
		t.Fatal(err)
	}

	tickAt(s, clk, 1)
	if got := strings.Join(order, ","); got != "parent" {
		t.Fatalf("first tick ran %s, want parent only", got)
	}
	tickAt(s, clk, 2)
	if got := strings.Join(order, ","); got != "parent,parent,child" {
		t.Fatalf("second tick ran %s, want parent,parent,child", got)
	}
}

func TestCurrentPeriodicAndSlowCallback(t *testing.T) {
	s, clk, obs := newTestScheduler(t, Config{AlertThreshold: 3 * time.Millisecond})
	var seen string
	_, err := s.RegisterPeriodic(func() {
		seen, _, _ = s.CurrentPeriodic()
		clk.AdvanceMs(5)
	}, 10*time.Millisecond, "heavy")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterPeriodic(func() {}, 10*time.Millisecond, "light"); err != nil {
		t.Fatal(err)
	}

	tickAt(s, clk, 10)
	if seen != "heavy" {
		t.Fatalf("CurrentPeriodic inside callback = %q, want heavy", seen)
	}
	if _, _, ok := s.CurrentPeriodic(); ok {
		t.Fatal("CurrentPeriodic reported a callback outside a tick")
	}
	if len(obs.slow) != 1 || obs.slow[0].name != "heavy" || obs.slow[0].took != 5*time.Millisecond {
		t.Fatalf("slow = %+v, want heavy took 5ms", obs.slow)
	}
	if len(obs.slowTicks) != 1 || obs.slowTicks[0] != 5*time.Millisecond {
		t.Fatalf("slowTicks = %v, want [5ms]", obs.slowTicks)
	}
}

func TestPeriodicNamesDifferingInsidePrefixStayDistinct(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	plain := strings.Repeat("a", 18)
	accented := plain + "é" // the first byte of é is still inside the key

	if _, err := s.RegisterPeriodic(func() {}, time.Second, plain); err != nil {
		t.Fatal(err)
	}
	reg, err := s.RegisterPeriodic(func() {}, time.Second, accented)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Replaced || !reg.Truncated {
		t.Fatalf("register %q = %+v, want a new truncated entry", accented, reg)
	}
	if s.PeriodicCount() != 2 {
		t.Fatalf("PeriodicCount = %d, want 2", s.PeriodicCount())
	}

	if !s.SuspendPeriodic(accented, true) {
		t.Fatal("suspend by accented name did not match")
	}
	snap := s.Snapshot()
	if snap.Periodic[0].Suspended || !snap.Periodic[1].Suspended {
		t.Fatalf("suspend hit the wrong entry: %+v", snap.Periodic)
	}
	// Display names never split a rune.
	if snap.Periodic[1].Name != plain || !utf8.ValidString(snap.Periodic[1].Name) {
		t.Fatalf("display name = %q, want %q", snap.Periodic[1].Name, plain)
	}
}

func TestResetPeriodic(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{MaxPeriodic: 2})
	fired := 0
	a, err := s.RegisterPeriodic(func() { fired++ }, 0, "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterPeriodic(func() { fired++ }, 0, "b"); err != nil {
		t.Fatal(err)
	}

	if n := s.ResetPeriodic(); n != 2 {
		t.Fatalf("ResetPeriodic = %d, want 2", n)
	}
	if s.PeriodicCount() != 0 {
		t.Fatalf("PeriodicCount = %d, want 0", s.PeriodicCount())
	}
	tickAt(s, clk, 1)
	if fired != 0 {
		t.Fatalf("fired = %d after reset, want 0", fired)
	}

	// The table is usable again, and old handles do not reach new entries.
	c, err := s.RegisterPeriodic(func() {}, time.Second, "c")
	if err != nil {
		t.Fatal(err)
	}
	if c.Replaced {
		t.Fatal("name from before the reset was still known")
	}
	if s.ChangePeriodicInterval(a.Handle, time.Minute) {
		t.Fatal("stale handle changed an entry")
	}
	if !s.ChangePeriodicInterval(c.Handle, time.Minute) {
		t.Fatal("fresh handle did not match")
	}
	if got := s.Snapshot().Periodic[0].MinInterval; got != time.Minute {
		t.Fatalf("MinInterval = %v, want 1m", got)
	}
}

func TestResetPeriodicFromCallbackSkipsRestOfTick(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	var order []string
	if _, err := s.RegisterPeriodic(func() {
		order = append(order, "first")
		s.ResetPeriodic()
	}, 0, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterPeriodic(func() { order = append(order, "second") }, 0, "second"); err != nil {
		t.Fatal(err)
	}

	tickAt(s, clk, 1)
	tickAt(s, clk, 2)
	if got := strings.Join(order, ","); got != "first" {
		t.Fatalf("ran %s, want first only", got)
	}
	if _, _, ok := s.CurrentPeriodic(); ok {
		t.Fatal("CurrentPeriodic reports a callback outside a tick")
	}
}
