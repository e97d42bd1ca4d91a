// Package retry wraps model invocations with bounded retries and
// exponential backoff, distinguishing retryable throttling/transient
// failures from fatal ones.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls retry behavior for a sequence of attempts against one
// model.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Factor is the exponential growth factor applied per retry.
	Factor float64
	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration
	// Jitter is the fraction of the delay randomized in both directions,
	// e.g. 0.25 yields a delay in [0.75d, 1.25d].
	Jitter float64

	// Sleep is the wait function between attempts. Nil uses a
	// context-aware timer. Tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the retry policy used for inference calls:
// 8 attempts, 2s base delay doubling up to 120s, ±25% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 8,
		BaseDelay:   2 * time.Second,
		Factor:      2,
		MaxDelay:    120 * time.Second,
		Jitter:      0.25,
	}
}

// Delay computes the backoff delay before the given retry (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for range attempt {
		d *= p.Factor
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < float64(500*time.Millisecond) {
		d = float64(500 * time.Millisecond)
	}
	return time.Duration(d)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Invoke runs fn up to policy.MaxAttempts times. Retryable failures back
// off exponentially between attempts; fatal failures return immediately.
// The returned error is always an *ExhaustedError tagged with the last
// failure's kind and the attempt count.
func Invoke[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := policy.sleep(ctx, policy.Delay(attempt-1)); err != nil {
				return zero, &ExhaustedError{Kind: KindTransient, Attempts: attempt, Err: err}
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !KindOf(err).Retryable() {
			return zero, &ExhaustedError{Kind: KindOf(err), Attempts: attempt + 1, Err: err}
		}
	}

	return zero, &ExhaustedError{Kind: KindOf(lastErr), Attempts: policy.MaxAttempts, Err: lastErr}
}
