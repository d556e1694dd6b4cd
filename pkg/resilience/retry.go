// Package resilience provides retry, circuit-breaking, and rate-limiting
// helpers shared by the execution backend and the HTTP task kind.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
)

// Retry executes fn, retrying on error with exponential backoff and jitter
// via cenkalti/backoff until attempts is exhausted or ctx is done.
func Retry[T any](ctx context.Context, attempts int, initialDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialDelay
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0
	bounded := backoff.WithMaxRetries(bo, uint64(attempts-1))
	withCtx := backoff.WithContext(bounded, ctx)

	meter := otel.Meter("dagflow")
	attemptCounter, _ := meter.Int64Counter("dagflow_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("dagflow_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("dagflow_resilience_retry_fail_total")

	var result T
	var lastErr error
	op := func() error {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err != nil {
			lastErr = err
			return err
		}
		result = v
		return nil
	}
	if err := backoff.Retry(op, withCtx); err != nil {
		failCounter.Add(ctx, 1)
		if lastErr != nil {
			return zero, lastErr
		}
		return zero, err
	}
	successCounter.Add(ctx, 1)
	return result, nil
}
