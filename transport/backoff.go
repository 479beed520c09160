package transport

import (
	"math"
	"time"
)

// Backoff is an exponential delay schedule.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
}

// DefaultBackoffPolicy starts at 2s and doubles.
func DefaultBackoffPolicy() Backoff {
	return Backoff{Initial: DefaultBackoff, Multiplier: DefaultMultiplier}
}

// Delay returns the wait after the given failed attempt (1-based):
// Initial * Multiplier^(attempt-1). A multiplier below 1 is treated as 1 so
// delays never shrink.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := b.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(b.Initial) * math.Pow(m, float64(attempt-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
