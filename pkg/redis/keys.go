package redis

import "fmt"

// UserRateLimitKey holds the sliding window of one user's requests to a route.
func UserRateLimitKey(route, userID string) string {
	return fmt.Sprintf("assignly:rate_limit:%s:user:%s", route, userID)
}

// ClientRateLimitKey is the fallback window for unauthenticated callers.
func ClientRateLimitKey(route, ip string) string {
	return fmt.Sprintf("assignly:rate_limit:%s:ip:%s", route, ip)
}

// DispatchLockKey marks a cleanup job as already handed to the outbox stream.
func DispatchLockKey(jobID string) string {
	return fmt.Sprintf("assignly:cleanup:dispatched:%s", jobID)
}
