package app

import (
	"context"
	"errors"
	"time"

	"offline-contest/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// RetryPolicy is a bounded exponential retry: MaxAttempts calls in total,
// waiting BaseDelay, then twice that, and so on between them. Timer is
// replaceable so tests can observe the delays without sleeping.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timer       backoff.Timer
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = base << uint(attempts)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, or the attempt
// budget is spent. Unauthorized errors are never retried. notify, when set,
// is told about each failed attempt and the delay before the next one.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(attempt int, err error, next time.Duration)) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if errors.Is(err, domain.ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		return err
	}
	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, next time.Duration) { notify(attempt, err, next) }
	}
	return backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), onRetry, p.Timer)
}
