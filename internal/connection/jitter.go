package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Jitter configures the delay before a reconnect attempt.
type Jitter struct {
	RetryCount int           // Exponent applied to Base
	MinDelay   time.Duration // Lower bound of every delay
	Base       float64       // Upper bound is Base^RetryCount seconds
	MaxDelay   time.Duration // Optional ceiling, 0 means none
}

// DefaultJitter waits between 500ms and 8s.
var DefaultJitter = Jitter{
	RetryCount: 3,
	MinDelay:   500 * time.Millisecond,
	Base:       2,
}

// JitterDelay returns a random delay in [minDelay, base^retryCount seconds).
// A range that collapses returns minDelay.
func JitterDelay(retryCount int, minDelay time.Duration, base float64) time.Duration {
	upper := time.Duration(math.Pow(base, float64(retryCount)) * float64(time.Second))
	if upper <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int64N(int64(upper-minDelay)))
}

// Delay returns the jittered delay for the next retry. Every retry draws from
// the same range.
func (j Jitter) Delay(int) time.Duration {
	d := JitterDelay(j.RetryCount, j.MinDelay, j.Base)
	if j.MaxDelay > 0 && d > j.MaxDelay {
		d = j.MaxDelay
	}
	return d
}

func (j Jitter) withDefaults() Jitter {
	if j.RetryCount <= 0 {
		j.RetryCount = DefaultJitter.RetryCount
	}
	if j.MinDelay <= 0 {
		j.MinDelay = DefaultJitter.MinDelay
	}
	if j.Base < 1 {
		j.Base = DefaultJitter.Base
	}
	return j
}
