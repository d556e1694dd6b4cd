package backend

import (
	"context"
	"sync"

	"github.com/dagflow/engine/pkg/resilience"
)

type job struct {
	fn   func(ctx context.Context)
	ctx  context.Context
	done chan struct{}
}

// PoolBackend runs submitted callables on a fixed-size goroutine pool,
// grounded in the dag_engine worker-pool pattern: a buffered job queue
// drained by a constant number of long-lived workers, with a shared
// cancellable context standing in for the "forceful" teardown the core
// contract asks of Shutdown(wait, kill=true) — Go cannot truly force-kill
// a goroutine, so kill is a cooperative cancellation signal the task body
// is expected to observe at its I/O boundaries.
type PoolBackend struct {
	jobs      chan job
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancelAll context.CancelFunc
	limiter   *resilience.RateLimiter

	mu     sync.Mutex
	closed bool
}

// NewPoolBackend starts workers goroutines draining a buffered job queue.
func NewPoolBackend(workers int) *PoolBackend {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &PoolBackend{
		jobs:      make(chan job, workers*4),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
	b.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	return b
}

// WithRateLimiter installs a global throttle each worker must clear before
// running a job, independent of the coordinator's resource budget. Must be
// called before the first Submit to take effect deterministically.
func (b *PoolBackend) WithRateLimiter(l *resilience.RateLimiter) *PoolBackend {
	b.limiter = l
	return b
}

func (b *PoolBackend) worker() {
	defer b.wg.Done()
	for j := range b.jobs {
		if b.limiter != nil {
			// Best-effort smoothing: block for admission, but never drop a
			// job outright on a full queue — the task still has to reach
			// Run so its state machine and reporter stay in the cycle the
			// Coordinator is polling.
			_ = b.limiter.AllowOrWait(j.ctx)
		}
		j.fn(j.ctx)
		close(j.done)
	}
}

// Submit enqueues fn for execution by the next free worker. Submitting
// after Shutdown returns a Handle whose Wait returns immediately.
func (b *PoolBackend) Submit(fn func(ctx context.Context)) *Handle {
	h := &Handle{done: make(chan struct{})}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		close(h.done)
		return h
	}
	b.jobs <- job{fn: fn, ctx: b.baseCtx, done: h.done}
	return h
}

// Shutdown stops accepting work, optionally cancelling the shared context
// (kill) and optionally blocking until the workers have run every job
// already queued and exited (wait).
func (b *PoolBackend) Shutdown(wait, kill bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()

	if kill {
		b.cancelAll()
	}
	if wait {
		b.wg.Wait()
	}
}
