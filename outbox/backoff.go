package outbox

import (
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// exponential returns base * 2^attempt, capped at max.
func exponential(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}
	mult := int64(1) << attempt
	if int64(base) > math.MaxInt64/mult {
		return max
	}
	d := time.Duration(int64(base) * mult)
	if max > 0 && d > max {
		return max
	}
	return d
}

// fullJitter returns a random duration in [0, d).
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}
