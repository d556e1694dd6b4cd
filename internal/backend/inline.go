package backend

import "context"

// InlineBackend runs every submitted callable synchronously on the
// caller's goroutine. Used by tests and by callers that want dagger-style
// direct invocation without a worker pool.
type InlineBackend struct{}

// Submit runs fn to completion before returning.
func (InlineBackend) Submit(fn func(ctx context.Context)) *Handle {
	h := &Handle{done: make(chan struct{})}
	fn(context.Background())
	close(h.done)
	return h
}

// Shutdown is a no-op: there is nothing in flight by the time Submit
// returns.
func (InlineBackend) Shutdown(wait, kill bool) {}

var (
	_ Backend = (*PoolBackend)(nil)
	_ Backend = InlineBackend{}
)
