// Package ratelimit provides atomic sliding-window call counters keyed
// by (principal, operation).
//
// The check and the increment are a single step in every
// implementation — two concurrent callers can never both observe
// count < max and both proceed.
package ratelimit

import (
	"context"
	"time"
)

// Limiter admits or rejects one call for a (principal, operation) pair.
type Limiter interface {
	// Allow atomically counts this call against the window and reports
	// whether it is admitted. retryAfter is how long until the window
	// resets; it is meaningful when allowed is false.
	Allow(ctx context.Context, principalID, operation string) (allowed bool, retryAfter time.Duration, err error)
}

func limiterKey(principalID, operation string) string {
	return principalID + ":" + operation
}
