package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialDelay(t *testing.T) {
	initial, max := 5*time.Second, 10*time.Minute

	assert.Equal(t, 5*time.Second, ExponentialDelay(0, initial, max, 2))
	assert.Equal(t, 5*time.Second, ExponentialDelay(1, initial, max, 2))
	assert.Equal(t, 10*time.Second, ExponentialDelay(2, initial, max, 2))
	assert.Equal(t, 40*time.Second, ExponentialDelay(4, initial, max, 2))
	assert.Equal(t, max, ExponentialDelay(20, initial, max, 2))
	assert.Equal(t, max, ExponentialDelay(5000, initial, max, 2))
	assert.Equal(t, 5*time.Second, ExponentialDelay(3, initial, max, 0.5))
	assert.Equal(t, time.Duration(0), ExponentialDelay(3, 0, max, 2))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		base := ExponentialDelay(attempt, 5*time.Second, 10*time.Minute, 2)
		for i := 0; i < 50; i++ {
			d := BackoffWithJitter(attempt, 5*time.Second, 10*time.Minute, 2)
			assert.GreaterOrEqual(t, d, base/2)
			assert.Less(t, d, base)
		}
	}
}

func TestNextBackoffWithJitter(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := NextBackoffWithJitter(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, time.Second)
	}
	assert.LessOrEqual(t, NextBackoffWithJitter(100), 30*time.Minute)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, SleepCtx(context.Background(), 0))
	assert.NoError(t, SleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepCtx(ctx, time.Hour), context.Canceled)
}
