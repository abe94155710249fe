package sync

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff returns the delay before retry number attempt (1-based)
type Backoff func(attempt int) time.Duration

// ExponentialBackoff doubles base per attempt and caps the delay at max
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 || base <= 0 {
			return 0
		}
		b := retry.WithCappedDuration(max, retry.NewExponential(base))

		var d time.Duration
		for i := 0; i < attempt; i++ {
			next, stop := b.Next()
			if stop {
				break
			}
			d = next
			if d >= max {
				return max
			}
		}
		return d
	}
}
