package backend

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagflow/engine/pkg/resilience"
)

func TestPoolBackendRunsSubmittedWork(t *testing.T) {
	b := NewPoolBackend(2)
	defer b.Shutdown(true, false)

	var n int32
	var handles []*Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, b.Submit(func(ctx context.Context) {
			atomic.AddInt32(&n, 1)
		}))
	}
	for _, h := range handles {
		h.Wait()
	}
	if got := atomic.LoadInt32(&n); got != 5 {
		t.Fatalf("ran %d jobs, want 5", got)
	}
}

func TestPoolBackendKillCancelsContext(t *testing.T) {
	b := NewPoolBackend(1)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	h := b.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started
	b.Shutdown(false, true)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled on kill shutdown")
	}
	h.Wait()
}

func TestPoolBackendRunsEveryJobEvenWhenRateLimiterQueueIsFull(t *testing.T) {
	limiter := resilience.NewRateLimiter(0, 0, 0, time.Millisecond)
	defer limiter.Stop()

	b := NewPoolBackend(2).WithRateLimiter(limiter)
	defer b.Shutdown(true, false)

	var n int32
	var handles []*Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, b.Submit(func(ctx context.Context) {
			atomic.AddInt32(&n, 1)
		}))
	}
	for _, h := range handles {
		h.Wait()
	}
	if got := atomic.LoadInt32(&n); got != 5 {
		t.Fatalf("ran %d jobs, want 5 (rate limiter must never drop a job)", got)
	}
}

func TestInlineBackendRunsSynchronously(t *testing.T) {
	var ran bool
	h := InlineBackend{}.Submit(func(ctx context.Context) {
		ran = true
	})
	h.Wait()
	if !ran {
		t.Fatal("inline backend did not run callable")
	}
}
