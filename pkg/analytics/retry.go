package analytics

import (
	"context"
	"errors"
	"time"
)

// Retry re-runs a call with exponential backoff. Client errors other than
// 408 and 429 are not retried.
type Retry struct {
	maxRetries int
	delay      time.Duration
	multiplier float64
}

func NewRetry(maxRetries int, delay time.Duration) *Retry {
	return &Retry{maxRetries: maxRetries, delay: delay, multiplier: 2.0}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// permanent marks err as not worth retrying.
func permanent(err error) error {
	return permanentError{err: err}
}

func (r *Retry) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := r.delay
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == r.maxRetries || !retryable(err) {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * r.multiplier)
	}
	return lastErr
}

func retryable(err error) bool {
	var p permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 408 || se.Code == 429:
			return true
		case se.Code >= 400 && se.Code < 500:
			return false
		}
	}
	return true
}
