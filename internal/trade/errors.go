package trade

import (
	"errors"
	"fmt"
	"time"
)

// Caller-visible error kinds. Everything else surfacing from a handler
// is logged in full server-side and returned as an opaque internal
// error to avoid information disclosure.
var (
	// ErrInvalidShareCount is returned for non-positive share counts or
	// counts above the configured per-trade maximum.
	ErrInvalidShareCount = errors.New("trade: invalid share count")

	// ErrInvalidPrice is returned for quotes outside [0, 1] or quotes
	// that no longer match the market price within tolerance.
	ErrInvalidPrice = errors.New("trade: invalid price")

	// ErrInvalidSide is returned for a side other than YES or NO.
	ErrInvalidSide = errors.New("trade: side must be YES or NO")

	// ErrInvalidDirection is returned for a direction other than buy or sell.
	ErrInvalidDirection = errors.New("trade: direction must be buy or sell")

	// ErrInvalidOutcome is returned for a resolution outcome other than
	// yes or no.
	ErrInvalidOutcome = errors.New("trade: outcome must be yes or no")

	// ErrInvalidAmount is returned for grant amounts that are not
	// positive or exceed the configured maximum.
	ErrInvalidAmount = errors.New("trade: invalid amount")

	// ErrMarketNotActive is returned when trading against a resolved market.
	ErrMarketNotActive = errors.New("trade: market is not active")

	// ErrInsufficientShares is returned when selling more shares than held.
	ErrInsufficientShares = errors.New("trade: insufficient shares")

	// ErrUnauthorized is returned when the principal lacks the required
	// role or is not the market creator. Always audited.
	ErrUnauthorized = errors.New("trade: unauthorized")
)

// RateLimitError carries the retry hint surfaced with a 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("trade: rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}
