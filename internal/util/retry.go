package util

import (
	"context"
	"time"
)

// Retry runs fn until it succeeds or maxAttempts calls have failed,
// doubling the delay between attempts starting from baseDelay. The error
// from the final attempt is returned. Cancellation is honored while waiting
// between attempts, never mid-call.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
