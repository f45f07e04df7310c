package errors

import (
	"context"
	stderrors "errors"
	"time"
)

// MaxRetries is the number of extra attempts DefaultBackoff allows after the first call.
const MaxRetries = 3

// Backoff is an exponential retry schedule.
type Backoff struct {
	Retries    int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

var DefaultBackoff = Backoff{
	Retries:    MaxRetries,
	Initial:    100 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
}

// Delay returns the pause before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, fails with an error that is not retryable or the retries run out.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !IsRetryable(err) || attempt >= b.Retries {
			return err
		}

		timer := time.NewTimer(b.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WithRetry runs fn under DefaultBackoff. Only AppErrors marked Retryable are retried.
func WithRetry(ctx context.Context, fn func() error) error {
	return DefaultBackoff.Do(ctx, fn)
}

func IsRetryable(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr != nil && appErr.Retryable
}
