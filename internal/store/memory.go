package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// WithTx runs fn against a deep copy of the state and swaps it in on
// success, so a failed transaction leaves nothing behind. Transactions
// are serialized by txMu; this is single-instance linearizability, the
// same trade-off the rest of the engine makes for the memory backend.
type MemoryStore struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	accounts map[string]*model.Account
	markets  map[string]*model.Market
	position map[string]*model.Position // key: user|market|side
	trades   []model.Trade
	audit    []model.AuditEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		markets:  make(map[string]*model.Market),
		position: make(map[string]*model.Position),
	}
}

func posKey(userID, marketID, side string) string {
	return userID + "|" + marketID + "|" + side
}

// WithTx snapshots the state, runs fn against the snapshot, and commits
// the snapshot atomically on success.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(snap); err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts = snap.accounts
	s.markets = snap.markets
	s.position = snap.position
	s.trades = snap.trades
	s.audit = snap.audit
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) snapshot() *MemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := NewMemoryStore()
	for id, a := range s.accounts {
		copy := *a
		snap.accounts[id] = &copy
	}
	for id, m := range s.markets {
		copy := *m
		snap.markets[id] = &copy
	}
	for k, p := range s.position {
		copy := *p
		snap.position[k] = &copy
	}
	snap.trades = append([]model.Trade(nil), s.trades...)
	snap.audit = append([]model.AuditEntry(nil), s.audit...)
	return snap
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) CreditAccount(_ context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (s *MemoryStore) DebitAccount(_ context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	copy := *m
	s.markets[m.ID] = &copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketState(_ context.Context, id string, priceYes, priceNo, sharesYes, sharesNo, volume decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	m.PriceYes = priceYes
	m.PriceNo = priceNo
	m.SharesYes = sharesYes
	m.SharesNo = sharesNo
	m.Volume = volume
	return nil
}

func (s *MemoryStore) ResolveMarketStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if m.Status != model.StatusActive {
		return ErrAlreadyResolved
	}
	m.Status = status
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID, side string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.position[posKey(userID, marketID, side)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrPositionNotFound, userID, marketID, side)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.position[posKey(p.UserID, p.MarketID, p.Side)] = &copy
	return nil
}

func (s *MemoryStore) GetPositionsBySide(_ context.Context, marketID, side string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.position {
		if p.MarketID == marketID && p.Side == side && p.Shares.IsPositive() {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *MemoryStore) GetPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.position {
		if p.UserID == userID && p.Shares.IsPositive() {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID != result[j].MarketID {
			return result[i].MarketID < result[j].MarketID
		}
		return result[i].Side < result[j].Side
	})
	return result, nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

// --- Audit ---

func (s *MemoryStore) InsertAuditEntry(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStore) GetAuditEntries(_ context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
