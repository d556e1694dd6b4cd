// Package backend implements the execution backend contract: submit a
// callable, get a handle; shut down, optionally waiting for drain and
// optionally signalling cancellation to whatever is still running.
package backend

import "context"

// Handle is returned by Submit; Wait blocks until the submitted callable
// has returned.
type Handle struct {
	done chan struct{}
}

// Wait blocks until the submitted callable returns.
func (h *Handle) Wait() {
	<-h.done
}

// Backend is the pluggable mechanism that runs a task body in a worker
// (goroutine pool by default, inline for tests and direct invocation).
// Implementations must arrange that reporter.Report(...) calls made inside
// the submitted callable become visible to the coordinator, which holds
// automatically for in-process goroutines sharing memory.
type Backend interface {
	// Submit runs fn asynchronously (or synchronously, for InlineBackend)
	// and returns a Handle to observe completion.
	Submit(fn func(ctx context.Context)) *Handle
	// Shutdown stops accepting new work. If kill is true, the context
	// passed to in-flight callables is cancelled so cooperative bodies can
	// observe it. If wait is true, Shutdown blocks until every submitted
	// callable has returned.
	Shutdown(wait, kill bool)
}
