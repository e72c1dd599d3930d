package broker

import (
	"math"
	"math/rand"
	"time"
)

// BackoffDelay returns the delay before retry attempt number `retries`:
// base * 2^(retries-1), capped at maxDelay, with up to 10% jitter.
func BackoffDelay(retries int, base, maxDelay time.Duration) time.Duration {
	if retries <= 0 {
		return 0
	}

	exponent := retries - 1
	multiplier := math.Pow(2, float64(exponent))

	if math.IsInf(multiplier, 1) || multiplier > float64(maxDelay)/float64(base) {
		delay := maxDelay
		jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
		return delay + jitter
	}

	delay := base * time.Duration(multiplier)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}
