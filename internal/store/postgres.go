package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/model"
)

// querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx, so
// the same query methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// WithTx runs fn inside a serializable transaction. Serialization
// failures and deadlocks surface as ErrSerialization so the caller's
// retry loop can distinguish them from real failures.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, q: tx})
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// 40001 serialization_failure, 40P01 deadlock_detected
			if pgErr.Code == "40001" || pgErr.Code == "40P01" {
				return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Code)
			}
		}
		return err
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.q.Exec(ctx,
		`INSERT INTO accounts (id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Balance.String(), a.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, a.ID)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.q.QueryRow(ctx,
		`SELECT id, balance::TEXT, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) CreditAccount(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC WHERE id = $1`,
		id, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

// DebitAccount applies the balance check and the debit as one
// conditional UPDATE, so two concurrent debits can never both pass a
// stale balance check.
func (s *PostgresStore) DebitAccount(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC`,
		id, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetAccount(ctx, id); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}

// --- Markets ---

const marketColumns = `id, question, status,
	price_yes::TEXT, price_no::TEXT,
	shares_yes::TEXT, shares_no::TEXT, volume::TEXT,
	creator_id, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var priceYes, priceNo, sharesYes, sharesNo, volume string

	err := row.Scan(&m.ID, &m.Question, &m.Status,
		&priceYes, &priceNo,
		&sharesYes, &sharesNo, &volume,
		&m.CreatorID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.PriceYes, _ = decimal.NewFromString(priceYes)
	m.PriceNo, _ = decimal.NewFromString(priceNo)
	m.SharesYes, _ = decimal.NewFromString(sharesYes)
	m.SharesNo, _ = decimal.NewFromString(sharesNo)
	m.Volume, _ = decimal.NewFromString(volume)
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO markets (id, question, status, price_yes, price_no, shares_yes, shares_no, volume, creator_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		m.ID, m.Question, m.Status,
		m.PriceYes.String(), m.PriceNo.String(),
		m.SharesYes.String(), m.SharesNo.String(), m.Volume.String(),
		m.CreatorID, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.q.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketState(ctx context.Context, id string, priceYes, priceNo, sharesYes, sharesNo, volume decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE markets
		 SET price_yes = $2::NUMERIC, price_no = $3::NUMERIC,
		     shares_yes = $4::NUMERIC, shares_no = $5::NUMERIC,
		     volume = $6::NUMERIC
		 WHERE id = $1`,
		id, priceYes.String(), priceNo.String(),
		sharesYes.String(), sharesNo.String(), volume.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return nil
}

// ResolveMarketStatus makes the Active→terminal transition conditional
// on the row still being active, so a second resolver observes zero
// rows affected and aborts without touching balances.
func (s *PostgresStore) ResolveMarketStatus(ctx context.Context, id, status string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1 AND status = $3`,
		id, status, model.StatusActive,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID, side string) (*model.Position, error) {
	var p model.Position
	var shares, avgPrice string

	err := s.q.QueryRow(ctx,
		`SELECT user_id, market_id, side, shares::TEXT, avg_price::TEXT
		 FROM positions WHERE user_id = $1 AND market_id = $2 AND side = $3`,
		userID, marketID, side).
		Scan(&p.UserID, &p.MarketID, &p.Side, &shares, &avgPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrPositionNotFound, userID, marketID, side)
	}
	if err != nil {
		return nil, err
	}

	p.Shares, _ = decimal.NewFromString(shares)
	p.AvgPrice, _ = decimal.NewFromString(avgPrice)
	return &p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, side, shares, avg_price)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (user_id, market_id, side)
		 DO UPDATE SET shares = EXCLUDED.shares, avg_price = EXCLUDED.avg_price`,
		p.UserID, p.MarketID, p.Side, p.Shares.String(), p.AvgPrice.String(),
	)
	return err
}

func (s *PostgresStore) GetPositionsBySide(ctx context.Context, marketID, side string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT user_id, market_id, side, shares::TEXT, avg_price::TEXT
		 FROM positions
		 WHERE market_id = $1 AND side = $2 AND shares > 0
		 ORDER BY user_id`,
		marketID, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT user_id, market_id, side, shares::TEXT, avg_price::TEXT
		 FROM positions
		 WHERE user_id = $1 AND shares > 0
		 ORDER BY market_id, side`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, avgPrice string

		if err := rows.Scan(&p.UserID, &p.MarketID, &p.Side, &shares, &avgPrice); err != nil {
			return nil, err
		}
		p.Shares, _ = decimal.NewFromString(shares)
		p.AvgPrice, _ = decimal.NewFromString(avgPrice)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (id, user_id, market_id, side, direction, shares, price, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.UserID, t.MarketID, t.Side, t.Direction,
		t.Shares.String(), t.Price.String(), t.Cost.String(),
		t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, market_id, side, direction,
		        shares::TEXT, price::TEXT, cost::TEXT, created_at
		 FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, market_id, side, direction,
		        shares::TEXT, price::TEXT, cost::TEXT, created_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var shares, price, cost string

		if err := rows.Scan(&t.ID, &t.UserID, &t.MarketID, &t.Side, &t.Direction,
			&shares, &price, &cost, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Cost, _ = decimal.NewFromString(cost)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Audit ---

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO audit_entries (id, user_id, action, resource_type, resource_id, details, success, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID,
		e.Details, e.Success, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetAuditEntries(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, action, resource_type, resource_id, details, success, timestamp
		 FROM audit_entries
		 WHERE ($1 = '' OR user_id = $1)
		 ORDER BY timestamp DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Details, &e.Success, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
