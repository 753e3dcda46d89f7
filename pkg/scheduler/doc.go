// Package scheduler is a single-threaded cooperative task runner for polling loops.
//
// One Scheduler owns three fixed-capacity tables, all driven by Tick():
//   - periodic callbacks: named, repeating, gated by a minimum interval and a
//     startup delay measured from the clock epoch
//   - delays: one-shot callbacks fired once their delay has strictly elapsed
//   - async functions: a start phase run after a start delay, and an end phase
//     reported as failed once the timeout is reached
//
// Tables are allocated once in New and never grow. Running out of room is
// reported immediately: a returned error, plus a synchronous failure callback
// for delays and async functions. The Reset methods empty tables in place
// without running anything.
//
// The Scheduler is not safe for concurrent use. The host calls Tick() and
// every registration method from one goroutine. Callbacks run on that
// goroutine and must return promptly: a blocking callback stalls every other
// entry, including timeout detection.
package scheduler
