// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market status values. Status is monotonic: once a market leaves
// StatusActive it never returns.
const (
	StatusActive      = "active"
	StatusResolvedYes = "resolved_yes"
	StatusResolvedNo  = "resolved_no"
)

// Trade sides.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Trade directions.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Principal roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account holds a principal's virtual currency balance.
// Balance never goes below zero; debits that would do so are rejected.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Market represents the state of a binary prediction market.
// Invariant: PriceYes + PriceNo == 1 exactly (the NO price is always
// derived as the complement of the YES price).
type Market struct {
	ID        string          `json:"id" db:"id"`
	Question  string          `json:"question" db:"question"`
	Status    string          `json:"status" db:"status"`
	PriceYes  decimal.Decimal `json:"price_yes" db:"price_yes"`
	PriceNo   decimal.Decimal `json:"price_no" db:"price_no"`
	SharesYes decimal.Decimal `json:"shares_yes" db:"shares_yes"` // outstanding YES shares
	SharesNo  decimal.Decimal `json:"shares_no" db:"shares_no"`   // outstanding NO shares
	Volume    decimal.Decimal `json:"volume" db:"volume"`         // cumulative traded cost
	CreatorID string          `json:"creator_id" db:"creator_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Active reports whether the market still accepts trades.
func (m *Market) Active() bool {
	return m.Status == StatusActive
}

// Position is a principal's holdings on one side of one market,
// keyed by (user, market, side), with weighted-average cost.
type Position struct {
	UserID   string          `json:"user_id" db:"user_id"`
	MarketID string          `json:"market_id" db:"market_id"`
	Side     string          `json:"side" db:"side"`
	Shares   decimal.Decimal `json:"shares" db:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price" db:"avg_price"`
}

// Trade is an immutable record of one executed trade.
// Once created, these are never modified or deleted.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Side      string          `json:"side" db:"side"`
	Direction string          `json:"direction" db:"direction"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Cost      decimal.Decimal `json:"cost" db:"cost"` // shares × price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AuditEntry is an append-only record of a security-relevant mutation
// attempt, written for every attempt regardless of outcome.
type AuditEntry struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	Details      string    `json:"details" db:"details"`
	Success      bool      `json:"success" db:"success"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// PortfolioPosition is a position annotated with mark-to-market value.
type PortfolioPosition struct {
	Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates a principal's balance and open positions.
type Portfolio struct {
	UserID    string              `json:"user_id"`
	Balance   decimal.Decimal     `json:"balance"`
	Positions []PortfolioPosition `json:"positions"`
	TotalPnL  decimal.Decimal     `json:"total_pnl"`
}
