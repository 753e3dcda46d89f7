package diag

import (
	"context"
	"time"

	"taskloop/internal/eventbus"
	"taskloop/internal/storage"
	logx "taskloop/pkg/logx"
)

// Recorder copies scheduler events from the bus into the alert journal.
type Recorder struct {
	bus   eventbus.Bus
	store storage.Store
	runID string
	log   logx.Logger
}

func NewRecorder(bus eventbus.Bus, store storage.Store, runID string, log logx.Logger) *Recorder {
	return &Recorder{bus: bus, store: store, runID: runID, log: log.With(logx.String("comp", "journal"))}
}

// Run consumes events until ctx is done. It is meant to run under a supervisor.
func (r *Recorder) Run(ctx context.Context) error {
	if r.bus == nil || r.store == nil {
		return nil
	}
	ch, unsub := r.bus.Subscribe(256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			entry, keep := alertFromEvent(e, r.runID)
			if !keep {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.AppendAlert(wctx, entry)
			cancel()
			if err != nil {
				r.log.Warn("journal append failed", logx.String("kind", entry.Kind), logx.Err(err))
			}
		}
	}
}

func alertFromEvent(e eventbus.Event, runID string) (storage.AlertEntry, bool) {
	a := storage.AlertEntry{
		At:     e.Time,
		RunID:  runID,
		Table:  e.Table,
		Name:   e.Name,
		TookMS: e.Took.Milliseconds(),
	}
	switch e.Type {
	case eventbus.TypeSlowCallback:
		a.Kind = storage.AlertSlowCallback
	case eventbus.TypeSlowTick:
		a.Kind = storage.AlertSlowTick
	case eventbus.TypeRejected:
		a.Kind = storage.AlertRejected
	default:
		return storage.AlertEntry{}, false
	}
	if e.Err != nil {
		a.Error = e.Err.Error()
	}
	return a, true
}
