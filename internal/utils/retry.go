package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how fast a failing call is retried.
type RetryPolicy struct {
	Attempts        int // Extra attempts after the first call
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes two extra attempts starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 2, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}

// Retry runs op until it succeeds, returns a permanent error (see backoff.Permanent),
// the attempts are exhausted, or ctx is done.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := p.Attempts
	if attempts < 0 {
		attempts = 0
	}
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx)
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx))
	return err
}
