package scheduler

// Snapshot copies the tables. It allocates, so keep it out of hot loops.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Ticks:          s.seq,
		AlertThreshold: fromMillis(s.alertMs),
		PeriodicCap:    len(s.periodic),
		DelayCap:       len(s.delays),
		AsyncCap:       len(s.async),
		Periodic:       make([]PeriodicInfo, 0, s.periodicCount),
	}

	for i := 0; i < s.periodicCount; i++ {
		e := &s.periodic[i]
		snap.Periodic = append(snap.Periodic, PeriodicInfo{
			Name:         e.name,
			MinInterval:  fromMillis(e.minInterval),
			StartupDelay: fromMillis(e.startupDelay),
			SinceFire:    fromMillis(s.clk.Elapsed(e.lastFire)),
			Suspended:    e.suspended,
		})
	}

	for i := range s.delays {
		d := &s.delays[i]
		if !d.occupied {
			continue
		}
		elapsed := s.clk.Elapsed(d.start)
		var remaining uint64
		if elapsed < d.delay {
			remaining = d.delay - elapsed
		}
		snap.Delays = append(snap.Delays, DelayInfo{
			Slot:      i,
			Delay:     fromMillis(d.delay),
			Remaining: fromMillis(remaining),
		})
	}

	for i := range s.async {
		a := &s.async[i]
		if !a.occupied {
			continue
		}
		elapsed := s.clk.Elapsed(a.ref)
		snap.Async = append(snap.Async, AsyncInfo{
			Slot:       i,
			Name:       a.name,
			InProgress: a.inProgress,
			StartDelay: fromMillis(a.startDelay),
			Timeout:    fromMillis(a.timeout),
			Elapsed:    fromMillis(elapsed),
			TimedOut:   elapsed >= a.timeout,
		})
	}
	return snap
}
