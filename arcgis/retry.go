package arcgis

import (
	"math"
	"math/rand"
	"time"
)

type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	jitter func() float64
}

func NewRetryPolicy(attempts int, base, max time.Duration) RetryPolicy {
	return RetryPolicy{
		Attempts:  attempts,
		BaseDelay: base,
		MaxDelay:  max,
		jitter:    rand.Float64,
	}
}

// Backoff returns the delay before the next attempt, given the number of
// attempts that already failed: base*2^(failed-1), capped at MaxDelay, with
// full jitter applied.
func (p RetryPolicy) Backoff(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}

	backoff := float64(p.BaseDelay) * math.Pow(2, float64(failed-1))
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	jitter := p.jitter
	if jitter == nil {
		jitter = rand.Float64
	}

	return time.Duration(backoff * jitter())
}
