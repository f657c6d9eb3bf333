package delivery

import (
	"math"
	"time"
)

// Backoff computes the inline sleep before a retryable item is requeued.
type Backoff struct {
	// Base is raised to the attempt number to give a delay in seconds.
	Base float64
	// RateLimitMultiplier scales the delay after a 429.
	RateLimitMultiplier float64
	RateLimitCap        time.Duration
	ConnectionCap       time.Duration
	DefaultCap          time.Duration
}

// DefaultBackoff returns the standard backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:                2,
		RateLimitMultiplier: 2,
		RateLimitCap:        120 * time.Second,
		ConnectionCap:       60 * time.Second,
		DefaultCap:          60 * time.Second,
	}
}

// Delay returns the wait before the attempt that will carry retryCount+1.
// The exponent is the upcoming retry number, so the first retry waits
// Base seconds.
func (b Backoff) Delay(class string, retryCount int) time.Duration {
	base := b.Base
	if base <= 1 {
		base = 2
	}
	seconds := math.Pow(base, float64(retryCount+1))
	limit := b.DefaultCap
	switch class {
	case ClassRateLimited:
		if b.RateLimitMultiplier > 0 {
			seconds *= b.RateLimitMultiplier
		}
		limit = b.RateLimitCap
	case ClassConnection:
		limit = b.ConnectionCap
	}
	if limit > 0 && seconds >= limit.Seconds() {
		return limit
	}
	return time.Duration(seconds * float64(time.Second))
}
