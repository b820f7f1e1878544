package services

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential retry schedule with symmetric jitter
type Backoff struct {
	Retries int           // Attempts after the first one
	Base    time.Duration // Delay before the first retry
	Factor  float64
	Jitter  float64 // Fraction of the delay, applied as +/-

	random func() float64
}

// DefaultBackoff retries storage outages 3 times: 50ms, 100ms, 200ms, each +/-20%
func DefaultBackoff() Backoff {
	return Backoff{Retries: 3, Base: 50 * time.Millisecond, Factor: 2, Jitter: 0.2}
}

// Delay returns the wait before retry number n (0-based)
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Base) * math.Pow(b.Factor, float64(n))
	if b.Jitter > 0 {
		random := b.random
		if random == nil {
			random = rand.Float64
		}
		d *= 1 + b.Jitter*(2*random()-1)
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
