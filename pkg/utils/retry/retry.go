// Package retry runs external calls under a bounded exponential-backoff policy
// with a per-attempt timeout.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maplebond/maplebond/pkg/utils/logging"
)

// Policy bounds the retries of one call
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RandomizationFactor spreads every wait by up to this fraction in
	// either direction. Zero waits exactly.
	RandomizationFactor float64
	// AttemptTimeout bounds every single attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
}

// Classifier reports whether a failed attempt may be retried
type Classifier func(err error) bool

// Do runs op until it succeeds, returns a non-retryable error, or the policy is
// exhausted. It returns the number of attempts made. When the parent context is
// done, Do stops and returns the context error.
func Do[T any](ctx context.Context, p Policy, retryable Classifier, op func(ctx context.Context) (T, error)) (T, int, error) {
	attempts := 0

	operation := func() (T, error) {
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		v, err := op(attemptCtx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, backoff.Permanent(ctxErr)
		}
		if !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logging.From(ctx).Warn("retrying external call",
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	v, err := backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
	return v, attempts, err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithRandomizationFactor(p.RandomizationFactor),
		backoff.WithMaxElapsedTime(0),
	)

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}
