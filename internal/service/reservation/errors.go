package reservation

import (
	"fmt"
	"time"
)

// RateLimitedError is returned when the caller exceeded its reservation
// budget for the current window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
