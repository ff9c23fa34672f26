package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/model"
)

func seedTestAccount(t *testing.T, s *MemoryStore, id string, balance int64) {
	t.Helper()
	err := s.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func TestMemoryStore_WithTxCommits(t *testing.T) {
	s := NewMemoryStore()
	seedTestAccount(t, s, "alice", 100)
	ctx := context.Background()

	err := s.WithTx(ctx, func(st Store) error {
		if err := st.DebitAccount(ctx, "alice", decimal.NewFromInt(30)); err != nil {
			return err
		}
		return st.InsertTrade(ctx, &model.Trade{ID: "t1", UserID: "alice"})
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	a, _ := s.GetAccount(ctx, "alice")
	if !a.Balance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("expected balance 70, got %s", a.Balance)
	}
	trades, _ := s.GetTradesByUser(ctx, "alice")
	if len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}
}

func TestMemoryStore_WithTxRollsBackAllWrites(t *testing.T) {
	s := NewMemoryStore()
	seedTestAccount(t, s, "alice", 100)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(st Store) error {
		if err := st.DebitAccount(ctx, "alice", decimal.NewFromInt(30)); err != nil {
			return err
		}
		if err := st.InsertTrade(ctx, &model.Trade{ID: "t1", UserID: "alice"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// Every write before the failure is discarded.
	a, _ := s.GetAccount(ctx, "alice")
	if !a.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance 100 after rollback, got %s", a.Balance)
	}
	trades, _ := s.GetTradesByUser(ctx, "alice")
	if len(trades) != 0 {
		t.Errorf("expected 0 trades after rollback, got %d", len(trades))
	}
}

func TestMemoryStore_DebitNeverGoesNegative(t *testing.T) {
	s := NewMemoryStore()
	seedTestAccount(t, s, "alice", 10)
	ctx := context.Background()

	err := s.DebitAccount(ctx, "alice", decimal.NewFromInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	a, _ := s.GetAccount(ctx, "alice")
	if !a.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance changed on rejected debit: %s", a.Balance)
	}

	// The exact balance is spendable.
	if err := s.DebitAccount(ctx, "alice", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("debit of full balance failed: %v", err)
	}
	a, _ = s.GetAccount(ctx, "alice")
	if !a.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", a.Balance)
	}
}

func TestMemoryStore_ResolveMarketStatusOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	err := s.CreateMarket(ctx, &model.Market{
		ID:     "m1",
		Status: model.StatusActive,
	})
	if err != nil {
		t.Fatalf("failed to create market: %v", err)
	}

	if err := s.ResolveMarketStatus(ctx, "m1", model.StatusResolvedYes); err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}
	err = s.ResolveMarketStatus(ctx, "m1", model.StatusResolvedNo)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	m, _ := s.GetMarket(ctx, "m1")
	if m.Status != model.StatusResolvedYes {
		t.Errorf("status overwritten by repeat resolution: %s", m.Status)
	}
}

func TestMemoryStore_DuplicateAccountRejected(t *testing.T) {
	s := NewMemoryStore()
	seedTestAccount(t, s, "alice", 100)

	err := s.CreateAccount(context.Background(), &model.Account{
		ID:      "alice",
		Balance: decimal.NewFromInt(9999),
	})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	a, _ := s.GetAccount(context.Background(), "alice")
	if !a.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("duplicate create clobbered balance: %s", a.Balance)
	}
}
