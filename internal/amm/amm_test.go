package amm_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/amm"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestShift(t *testing.T) {
	cases := []struct {
		shares float64
		want   float64
	}{
		{10, 0.01},
		{50, 0.05},
		{1, 0.001},
		{100, 0.1},
	}
	for _, tc := range cases {
		got := amm.Shift(d(tc.shares))
		if !got.Equal(d(tc.want)) {
			t.Errorf("Shift(%v) = %s, want %v", tc.shares, got, tc.want)
		}
	}
}

func TestApply_BuyYesMovesPriceUp(t *testing.T) {
	q, err := amm.Apply(d(0.5), "YES", d(10), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PriceYes.Equal(d(0.51)) {
		t.Errorf("expected yes=0.51, got %s", q.PriceYes)
	}
	if !q.PriceNo.Equal(d(0.49)) {
		t.Errorf("expected no=0.49, got %s", q.PriceNo)
	}
}

func TestApply_BuyNoMovesYesDown(t *testing.T) {
	q, err := amm.Apply(d(0.51), "NO", d(10), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PriceYes.Equal(d(0.50)) {
		t.Errorf("expected yes=0.50, got %s", q.PriceYes)
	}
	if !q.PriceNo.Equal(d(0.50)) {
		t.Errorf("expected no=0.50, got %s", q.PriceNo)
	}
}

func TestApply_SellYesMovesPriceDown(t *testing.T) {
	q, err := amm.Apply(d(0.5), "YES", d(20), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PriceYes.Equal(d(0.48)) {
		t.Errorf("expected yes=0.48, got %s", q.PriceYes)
	}
}

func TestApply_SellNoMovesYesUp(t *testing.T) {
	q, err := amm.Apply(d(0.5), "NO", d(20), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PriceYes.Equal(d(0.52)) {
		t.Errorf("expected yes=0.52, got %s", q.PriceYes)
	}
}

func TestApply_ClampsAtCeiling(t *testing.T) {
	q, err := amm.Apply(d(0.98), "YES", d(100), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PriceYes.Equal(amm.MaxPrice) {
		t.Errorf("expected clamp at %s, got %s", amm.MaxPrice, q.PriceYes)
	}
	if !q.PriceNo.Equal(d(0.01)) {
		t.Errorf("expected no=0.01, got %s", q.PriceNo)
	}
}

func TestApply_ClampsAtFloor(t *testing.T) {
	q, err := amm.Apply(d(0.02), "YES", d(500), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PriceYes.Equal(amm.MinPrice) {
		t.Errorf("expected clamp at %s, got %s", amm.MinPrice, q.PriceYes)
	}
}

func TestApply_PricesSumToOne(t *testing.T) {
	one := decimal.NewFromInt(1)
	price := d(0.5)
	// Walk the price around with a mix of trades; the pair must sum to
	// exactly 1 at every step because NO is derived as the complement.
	steps := []struct {
		side   string
		shares float64
		buy    bool
	}{
		{"YES", 10, true}, {"NO", 30, true}, {"YES", 55, false},
		{"NO", 7, false}, {"YES", 990, true}, {"YES", 500, false},
	}
	for i, s := range steps {
		q, err := amm.Apply(price, s.side, d(s.shares), s.buy)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if !q.PriceYes.Add(q.PriceNo).Equal(one) {
			t.Fatalf("step %d: prices sum to %s, want 1", i, q.PriceYes.Add(q.PriceNo))
		}
		price = q.PriceYes
	}
}

func TestApply_RejectsBadInput(t *testing.T) {
	if _, err := amm.Apply(d(0.5), "YES", decimal.Zero, true); err == nil {
		t.Error("expected error for zero shares")
	}
	if _, err := amm.Apply(d(0.5), "YES", d(-5), true); err == nil {
		t.Error("expected error for negative shares")
	}
	if _, err := amm.Apply(d(0.5), "MAYBE", d(5), true); err == nil {
		t.Error("expected error for invalid side")
	}
}

func TestClamp(t *testing.T) {
	if !amm.Clamp(d(1.5)).Equal(amm.MaxPrice) {
		t.Error("expected clamp to ceiling")
	}
	if !amm.Clamp(d(-0.2)).Equal(amm.MinPrice) {
		t.Error("expected clamp to floor")
	}
	if !amm.Clamp(d(0.42)).Equal(d(0.42)) {
		t.Error("in-range price should be unchanged")
	}
}
