package utils

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponentially growing delays between retry attempts.
// A zero value disables waiting entirely.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Jitter adds up to the given fraction of the delay on top of it,
	// so concurrent retries do not fire in lockstep. Valid range is 0..1.
	Jitter float64
}

// Delay returns the wait before retry number attempt, counted from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * rand.Float64()
	}

	return time.Duration(d)
}
