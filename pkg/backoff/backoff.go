package backoff

import (
	"math"
	"time"
)

// Exponential returns the delay before the next delivery attempt:
// base * 2^attemptsMade. With the default 1s base the progression is
// 1s, 2s, 4s, 8s, 16s. Retry scheduling depends on the progression
// being strictly increasing.
//
// Negative attempt counts are treated as zero.
func Exponential(base time.Duration, attemptsMade int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attemptsMade < 0 {
		attemptsMade = 0
	}
	// Guard against overflow for absurd attempt counts.
	if attemptsMade > 40 {
		attemptsMade = 40
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attemptsMade)))
}

// ExponentialJitter is Exponential with a +/-20% jitter, capped at max.
// Used for connection retries where synchronized reconnect storms matter
// more than a strictly monotonic progression.
func ExponentialJitter(base, max time.Duration, attemptsMade int) time.Duration {
	d := Exponential(base, attemptsMade)
	if max > 0 && d > max {
		d = max
	}

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(time.Now().UnixNano()%int64(2*j))
}
