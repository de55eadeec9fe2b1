package execution

import "time"

// CalculateBackoff returns the exponential backoff delay for a given retry
// count: base * 2^retryCount, capped at max. A negative retryCount yields the
// base delay.
func CalculateBackoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		return base
	}

	// 2^30 seconds already dwarfs any sane cap; short-circuit before the
	// shift can overflow.
	if retryCount > 30 {
		return max
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > max {
		return max
	}
	return backoff
}
