// Package diag reports scheduler diagnostics: rate-limited warnings for slow
// callbacks and ticks, bus events for every report, and an optional journal.
package diag
