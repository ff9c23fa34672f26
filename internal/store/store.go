// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/model"
)

// Sentinel errors shared by every implementation. Callers match with
// errors.Is; wrapped detail is for logs only.
var (
	ErrAccountNotFound  = errors.New("store: account not found")
	ErrAccountExists    = errors.New("store: account already exists")
	ErrMarketNotFound   = errors.New("store: market not found")
	ErrPositionNotFound = errors.New("store: position not found")

	// ErrInsufficientFunds is returned by DebitAccount when the debit
	// would take the balance below zero. No partial debit is applied.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrAlreadyResolved is returned by ResolveMarketStatus when the
	// market has already left the active state. The conditional status
	// transition is the linearization point for settlement.
	ErrAlreadyResolved = errors.New("store: market already resolved")

	// ErrSerialization marks a transient transaction conflict. It is the
	// only error kind callers retry automatically.
	ErrSerialization = errors.New("store: serialization conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// WithTx runs fn against a transactional view of the store. Every
	// mutation fn makes commits atomically or not at all. Postgres runs
	// fn inside a serializable transaction and surfaces conflicts as
	// ErrSerialization; the in-memory store serializes transactions and
	// commits a snapshot on success.
	WithTx(ctx context.Context, fn func(Store) error) error

	// --- Accounts ---

	// CreateAccount persists a new account with its starting balance.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by principal id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// CreditAccount adds amount to the account balance.
	CreditAccount(ctx context.Context, id string, amount decimal.Decimal) error

	// DebitAccount subtracts amount, failing with ErrInsufficientFunds
	// if the balance would go negative. The compare and the write are a
	// single conditional update, never a separate read-then-write.
	DebitAccount(ctx context.Context, id string, amount decimal.Decimal) error

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketState updates prices, outstanding shares, and volume
	// after a trade.
	UpdateMarketState(ctx context.Context, id string, priceYes, priceNo, sharesYes, sharesNo, volume decimal.Decimal) error

	// ResolveMarketStatus transitions an active market to a terminal
	// status. Returns ErrAlreadyResolved if the market is not active;
	// the transition is conditional on the current status so two
	// resolvers can never both succeed.
	ResolveMarketStatus(ctx context.Context, id, status string) error

	// --- Positions ---

	// GetPosition retrieves one (user, market, side) position.
	GetPosition(ctx context.Context, userID, marketID, side string) (*model.Position, error)

	// UpsertPosition creates or replaces a position row.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// GetPositionsBySide returns all positions on one side of a market
	// with shares > 0, used by the resolver to compute payouts.
	GetPositionsBySide(ctx context.Context, marketID, side string) ([]model.Position, error)

	// GetPositionsByUser returns all of a user's open positions.
	GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable trade ledger ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// GetTradesByMarket returns all trades for a market.
	GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// GetTradesByUser returns all trades for a user.
	GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Append-only audit log ---

	// InsertAuditEntry appends an audit record.
	InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error

	// GetAuditEntries returns recent audit entries, optionally filtered
	// by user id (empty string matches all), newest first.
	GetAuditEntries(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error)
}
