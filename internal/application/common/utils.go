package common

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Version - версия сборки, переопределяется через -ldflags "-X integrations/internal/application/common.Version=..."
var Version = "0.1.0"

// NextBackoffWithJitter - 1s, 2s, 4s ... с потолком 30m, для внутренних ретраев (kafka, хранилище)
func NextBackoffWithJitter(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	return BackoffWithJitter(attempts+1, time.Second, 30*time.Minute, 2)
}

// BackoffWithJitter считает задержку перед попыткой номер attempt (с 1):
// initial*multiplier^(attempt-1), не больше max, затем equal jitter в [d/2, d).
func BackoffWithJitter(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	base := ExponentialDelay(attempt, initial, max, multiplier)
	if base < 2 {
		return base
	}

	jitter := time.Duration(rand.Int63n(int64(base / 2)))

	return base/2 + jitter
}

// ExponentialDelay - задержка без джиттера
func ExponentialDelay(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}

	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if max > 0 && (d > float64(max) || math.IsInf(d, 0) || math.IsNaN(d)) {
		return max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
