package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier bounds in-place retries of transient provider failures.
type Retrier struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

func NewRetrier(maxAttempts int) Retrier {
	return Retrier{MaxAttempts: maxAttempts, Initial: 250 * time.Millisecond, Max: 4 * time.Second}
}

func (r Retrier) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.Initial
	exp.MaxInterval = r.Max
	exp.MaxElapsedTime = 0
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
func Retry[T any](ctx context.Context, r Retrier, op func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := op()
		if err != nil {
			if ClassOf(err) != Transient {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, r.policy(ctx))
	return out, err
}
