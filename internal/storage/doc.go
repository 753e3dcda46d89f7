// Package storage records scheduler alerts (slow callbacks, slow ticks and
// rejected registrations) so they survive restarts and can be listed later.
package storage
