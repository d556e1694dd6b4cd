// Package report implements the State Reporter: a one-writer/one-reader
// channel carrying a Task's state from its execution context back to the
// coordinator. Reads and writes are single-word atomic, so the
// coordinator's non-blocking polls never tear.
package report

import "sync/atomic"

// Reporter carries the latest value of type S written by a task's
// execution context and read by the coordinator. The zero value is not
// usable; construct with New.
type Reporter[S any] struct {
	v atomic.Value
}

// New constructs a Reporter pre-seeded with initial, matching a Task's
// starting state.
func New[S any](initial S) *Reporter[S] {
	r := &Reporter[S]{}
	r.v.Store(initial)
	return r
}

// Report is called by the executing task on every state change.
func (r *Reporter[S]) Report(s S) {
	r.v.Store(s)
}

// Current is called by the coordinator to non-blockingly read the latest
// reported state.
func (r *Reporter[S]) Current() S {
	return r.v.Load().(S)
}
