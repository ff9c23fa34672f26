package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets and accounts. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Cache operations are best-effort and never fail a request.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration

	// skipReads bypasses the read cache. Set on transactional views:
	// a transaction must see the primary's row versions, not a cached
	// copy, or serializable isolation means nothing.
	skipReads bool
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// WithTx delegates to the primary store's transaction; the view handed
// to fn is itself cache-aware so in-transaction writes invalidate as
// they go.
func (s *CachedStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.primary.WithTx(ctx, func(tx Store) error {
		return fn(&CachedStore{primary: tx, rdb: s.rdb, ttl: s.ttl, skipReads: true})
	})
}

// --- Accounts (cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	// Inside a transaction the row is not committed yet; populating the
	// cache here would leave a phantom row if the transaction rolls
	// back. Invalidate only.
	if s.skipReads {
		s.rdb.Del(ctx, accountKey(a.ID))
		return nil
	}
	s.cacheJSON(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if s.skipReads {
		return s.primary.GetAccount(ctx, id)
	}

	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, accountKey(id), a)
	return a, nil
}

func (s *CachedStore) CreditAccount(ctx context.Context, id string, amount decimal.Decimal) error {
	if err := s.primary.CreditAccount(ctx, id, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

func (s *CachedStore) DebitAccount(ctx context.Context, id string, amount decimal.Decimal) error {
	if err := s.primary.DebitAccount(ctx, id, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

// --- Markets (cached) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	if s.skipReads {
		s.rdb.Del(ctx, marketKey(m.ID))
		return nil
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if s.skipReads {
		return s.primary.GetMarket(ctx, id)
	}

	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) UpdateMarketState(ctx context.Context, id string, priceYes, priceNo, sharesYes, sharesNo, volume decimal.Decimal) error {
	if err := s.primary.UpdateMarketState(ctx, id, priceYes, priceNo, sharesYes, sharesNo, volume); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) ResolveMarketStatus(ctx context.Context, id, status string) error {
	if err := s.primary.ResolveMarketStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID, side string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, marketID, side)
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	return s.primary.UpsertPosition(ctx, p)
}

func (s *CachedStore) GetPositionsBySide(ctx context.Context, marketID, side string) ([]model.Position, error) {
	return s.primary.GetPositionsBySide(ctx, marketID, side)
}

func (s *CachedStore) GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	return s.primary.GetPositionsByUser(ctx, userID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.GetTradesByMarket(ctx, marketID)
}

func (s *CachedStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.GetTradesByUser(ctx, userID)
}

func (s *CachedStore) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	return s.primary.InsertAuditEntry(ctx, e)
}

func (s *CachedStore) GetAuditEntries(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	return s.primary.GetAuditEntries(ctx, userID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string  { return fmt.Sprintf("market:%s", id) }
func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
