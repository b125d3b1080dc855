package channel

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: Base * 2^(attempt-1), capped at Max when
// Max > 0, with an optional symmetric jitter fraction.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1, fraction of the delay
}

// DefaultBackoff returns the default schedule: 1s, 2s, 4s... up to 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: time.Second,
		Max:  60 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}

	wait := base
	for i := 1; i < attempt; i++ {
		next := wait * 2
		if next < wait {
			break // overflow
		}
		if b.Max > 0 && next > b.Max {
			wait = b.Max
			break
		}
		wait = next
	}
	if b.Max > 0 && wait > b.Max {
		wait = b.Max
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
