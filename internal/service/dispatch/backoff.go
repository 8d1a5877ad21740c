package dispatch

import "time"

// Backoff returns the delay before a failed attempt becomes eligible for
// retry: 2^max(n-1, 0) minutes, doubling per attempt (1, 2, 4, 8, 16, ...).
// The SQL retry claim applies the same formula; keep the two in sync.
func Backoff(attemptNo int) time.Duration {
	n := attemptNo - 1
	if n < 0 {
		n = 0
	}
	return time.Minute << uint(n)
}
