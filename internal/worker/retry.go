package worker

import "time"

// RetryPolicy is an exponential backoff for failed sheet writes. Attempt n
// waits InitialDelay * BackoffFactor^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy fills any zero field of a caller's policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    5,
	InitialDelay:  2 * time.Second,
	MaxDelay:      time.Minute,
	BackoffFactor: 2,
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy
	if r.MaxRetries > 0 {
		d.MaxRetries = r.MaxRetries
	}
	if r.InitialDelay > 0 {
		d.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		d.MaxDelay = r.MaxDelay
	}
	if r.BackoffFactor > 0 {
		d.BackoffFactor = r.BackoffFactor
	}
	return d
}

// NextDelay returns the wait before attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	p := r.withDefaults()
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffFactor
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return min(time.Duration(delay), p.MaxDelay)
}
