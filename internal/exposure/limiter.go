// Package exposure enforces position limits on share holdings.
//
// A principal buying the maximum on every market still has bounded
// aggregate risk: buys are checked against a per-market share cap and
// a cap on total shares held across all markets.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/model"
)

var (
	// ErrMarketLimitExceeded is returned when a buy would push the
	// principal's holdings in one market beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("exposure: per-market position limit exceeded")

	// ErrTotalLimitExceeded is returned when a buy would push the
	// principal's aggregate holdings across all markets beyond the
	// total maximum.
	ErrTotalLimitExceeded = errors.New("exposure: total position limit exceeded")
)

// Limiter enforces per-market and aggregate share limits.
type Limiter struct {
	// MaxPerMarket is the maximum shares (both sides combined) a
	// principal may hold in any single market.
	MaxPerMarket decimal.Decimal

	// MaxTotal is the maximum shares a principal may hold across all
	// markets combined.
	MaxTotal decimal.Decimal
}

// NewLimiter creates a limiter with the given per-market and total caps.
func NewLimiter(maxPerMarket, maxTotal decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerMarket: maxPerMarket,
		MaxTotal:     maxTotal,
	}
}

// CheckBuy validates whether buying delta more shares in targetMarket
// respects the limits, given the principal's current open positions.
// Sells always reduce exposure and are not checked.
func (l *Limiter) CheckBuy(targetMarket string, delta decimal.Decimal, positions []model.Position) error {
	inMarket := delta
	total := delta

	for _, p := range positions {
		total = total.Add(p.Shares)
		if p.MarketID == targetMarket {
			inMarket = inMarket.Add(p.Shares)
		}
	}

	if inMarket.GreaterThan(l.MaxPerMarket) {
		return ErrMarketLimitExceeded
	}
	if total.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}
	return nil
}
