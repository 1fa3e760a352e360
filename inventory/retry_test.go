package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_Bounds(t *testing.T) {
	base, max := 10*time.Millisecond, 80*time.Millisecond

	for attempt := 0; attempt < 40; attempt++ {
		ceiling := base << min(attempt, maxBackoffShift)
		if ceiling > max || ceiling <= 0 {
			ceiling = max
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(base, max, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.Less(t, d, ceiling, "attempt %d", attempt)
		}
	}

	assert.Zero(t, backoffDelay(0, max, 3))
}

func TestSleepWithContext(t *testing.T) {
	assert.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
