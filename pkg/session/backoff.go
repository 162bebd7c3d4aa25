package session

import (
	"math/rand"
	"time"
)

// Backoff is the reconnect policy applied after a non-terminal
// connection close: capped exponential delays with jitter, and a retry
// cap after which the tenant is parked in the error state instead of
// flapping forever.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
	Jitter     float64 // fraction of the delay randomized, 0..1
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        time.Minute,
		MaxRetries: 10,
		Jitter:     0.2,
	}
}

func (b Backoff) norm() Backoff {
	if b.Initial <= 0 {
		b.Initial = 2 * time.Second
	}
	if b.Max <= 0 {
		b.Max = time.Minute
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = 10
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = 0.2
	}
	return b
}

// Delay returns the wait before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.norm()
	if attempt < 1 {
		attempt = 1
	}

	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}

	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}
