package worker

import (
	"math"
	"time"

	"github.com/pixelmint/genstudio/internal/config"
)

// RetryPolicy controls how transient generator failures are retried.
// Passed explicitly into the worker constructor rather than hidden in
// queue configuration.
type RetryPolicy struct {
	Ceiling    int           // attempts before the job goes FAILED
	BaseDelay  time.Duration // delay before the first retry
	Multiplier float64       // backoff growth per attempt
}

// NewRetryPolicy builds a policy from config with sane defaults
func NewRetryPolicy(cfg *config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		Ceiling:    cfg.Ceiling,
		BaseDelay:  cfg.BaseDelay,
		Multiplier: cfg.Multiplier,
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = 5 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}

	return p
}

// Delay returns the backoff before the retry following failed attempt n
// (0-based): base * multiplier^n.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(10*time.Minute) {
		return 10 * time.Minute
	}
	return time.Duration(d)
}

// Delays lists every backoff the policy can produce, ascending. Used to
// declare the broker's delay queues up front.
func (p RetryPolicy) Delays() []time.Duration {
	if p.Ceiling <= 0 {
		return []time.Duration{p.BaseDelay}
	}

	delays := make([]time.Duration, 0, p.Ceiling)
	for i := 0; i < p.Ceiling; i++ {
		delays = append(delays, p.Delay(i))
	}
	return delays
}

// Exhausted reports whether attempts has reached the retry ceiling
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.Ceiling
}
