package orchestrate

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes retry delays: exponential growth from BaseDelay,
// capped at MaxDelay, with equal jitter so retry storms decorrelate.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns the wait before the next try after the given 1-based
// attempt. The result is always within (cap/2, cap] for the attempt's
// exponential cap.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}

	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
