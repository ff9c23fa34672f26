// Package amm implements the constant-slope automated market maker for
// binary outcome markets.
//
// Every 10 shares traded moves the traded side's price by one cent.
// This is deliberately not a bounded-loss scoring rule (such as LMSR);
// the flat slope keeps pricing trivially auditable at the cost of an
// unbounded maker subsidy. The NO price is always derived as the exact
// complement of the YES price, which is what keeps the sum-to-one
// invariant from drifting.
//
// All monetary values use shopspring/decimal — never float64 for money.
package amm

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidShares is returned when the share quantity is not positive.
	ErrInvalidShares = errors.New("amm: share quantity must be positive")

	// ErrInvalidSide is returned for a side other than YES or NO.
	ErrInvalidSide = errors.New("amm: side must be YES or NO")

	// MinPrice is the lowest allowed YES price (probability floor).
	MinPrice = decimal.NewFromFloat(0.01)

	// MaxPrice is the highest allowed YES price (probability ceiling).
	MaxPrice = decimal.NewFromFloat(0.99)
)

var (
	one            = decimal.NewFromInt(1)
	sharesPerShift = decimal.NewFromInt(10)
	shiftPerUnit   = decimal.NewFromFloat(0.01)
)

// Quote is the price pair produced by applying a trade.
type Quote struct {
	PriceYes decimal.Decimal
	PriceNo  decimal.Decimal
}

// Shift returns the price movement caused by trading the given number
// of shares: (shares / 10) × 0.01.
func Shift(shares decimal.Decimal) decimal.Decimal {
	return shares.Div(sharesPerShift).Mul(shiftPerUnit)
}

// Apply computes the post-trade price pair. Buying a side pushes that
// side's price up; selling pushes it down. The YES price is clamped to
// [MinPrice, MaxPrice] and the NO price is exactly 1 − yes.
//
// Pure and deterministic: no state, no side effects.
func Apply(priceYes decimal.Decimal, side string, shares decimal.Decimal, buy bool) (Quote, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return Quote{}, ErrInvalidShares
	}

	shift := Shift(shares)

	// A YES buy and a NO sell both push the YES price up.
	up := (side == "YES") == buy
	switch side {
	case "YES", "NO":
	default:
		return Quote{}, ErrInvalidSide
	}

	newYes := priceYes
	if up {
		newYes = newYes.Add(shift)
	} else {
		newYes = newYes.Sub(shift)
	}
	newYes = Clamp(newYes)

	return Quote{PriceYes: newYes, PriceNo: one.Sub(newYes)}, nil
}

// Clamp bounds a YES price to [MinPrice, MaxPrice].
func Clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}
