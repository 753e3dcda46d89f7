package scheduler

import "errors"

var (
	ErrNilCallback       = errors.New("scheduler: nil callback")
	ErrPeriodicTableFull = errors.New("scheduler: periodic table full")
	ErrDelayPoolFull     = errors.New("scheduler: delay pool full")
	ErrAsyncPoolFull     = errors.New("scheduler: async function pool full")
	ErrAsyncDuplicate    = errors.New("scheduler: async function already registered")
)
