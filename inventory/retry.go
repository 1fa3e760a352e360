package inventory

import (
	"context"
	"math/rand/v2"
	"time"
)

// maxBackoffShift caps the exponent so base<<attempt cannot overflow.
const maxBackoffShift = 30

// backoffDelay returns a full-jitter delay in [0, min(base*2^attempt, max)).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	delay := base << attempt
	if max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// sleepWithContext waits d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
