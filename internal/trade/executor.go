package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/amm"
	"github.com/predex/ledger-engine/internal/audit"
	"github.com/predex/ledger-engine/internal/auth"
	"github.com/predex/ledger-engine/internal/metrics"
	"github.com/predex/ledger-engine/internal/model"
	"github.com/predex/ledger-engine/internal/store"
)

var one = decimal.NewFromInt(1)

// ExecuteTrade handles POST /api/v1/trade.
//
// The acting principal is taken from the verified request context only;
// a user id in the body would be ignored even if present. All balance,
// position, ledger, and market mutations commit atomically or not at
// all, and every attempt leaves an audit entry.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := s.executeTrade(r.Context(), p, req)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		s.writeServiceError(w, "execute trade", err)
		return
	}
	metrics.TradesTotal.WithLabelValues(resp.Side, resp.Direction).Inc()
	metrics.TradeLatency.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, resp)
}

// executeTrade validates, admits, and applies one trade as a single
// atomic unit. Returns the response payload on success; on failure the
// transaction has rolled back and a failure audit entry is written.
func (s *Service) executeTrade(ctx context.Context, p auth.Principal, req TradeRequest) (*TradeResponse, error) {
	resp, err := s.tryExecuteTrade(ctx, p, req)
	if err != nil {
		s.audit.Failure(ctx, p.ID, audit.ActionTrade, "market", req.MarketID, err.Error())
		return nil, err
	}
	return resp, nil
}

func (s *Service) tryExecuteTrade(ctx context.Context, p auth.Principal, req TradeRequest) (*TradeResponse, error) {
	// --- Input validation ---
	if req.Side != model.SideYes && req.Side != model.SideNo {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}
	direction := req.Direction
	if direction == "" {
		direction = model.DirectionBuy
	}
	if direction != model.DirectionBuy && direction != model.DirectionSell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	}
	if req.Shares <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShareCount, req.Shares)
	}
	shares := decimal.NewFromInt(req.Shares)
	if shares.GreaterThan(s.cfg.MaxSharesPerTrade) {
		return nil, fmt.Errorf("%w: %d exceeds maximum %s", ErrInvalidShareCount, req.Shares, s.cfg.MaxSharesPerTrade)
	}
	if req.Price.IsNegative() || req.Price.GreaterThan(one) {
		return nil, fmt.Errorf("%w: %s outside [0, 1]", ErrInvalidPrice, req.Price)
	}

	// --- Rate limit admission (atomic check-and-increment) ---
	allowed, retryAfter, err := s.limiter.Allow(ctx, p.ID, OpTrade)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		metrics.RateLimitRejections.WithLabelValues(OpTrade).Inc()
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	buy := direction == model.DirectionBuy
	cost := shares.Mul(req.Price)

	var resp *TradeResponse
	err = s.runTx(ctx, func(st store.Store) error {
		m, err := st.GetMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if !m.Active() {
			return fmt.Errorf("%w: %s is %s", ErrMarketNotActive, m.ID, m.Status)
		}

		// The quote must still match the market. A stale quote means the
		// price moved between the caller's read and this execution; make
		// them re-quote instead of filling at a price they never saw.
		sidePrice := m.PriceYes
		if req.Side == model.SideNo {
			sidePrice = m.PriceNo
		}
		if req.Price.Sub(sidePrice).Abs().GreaterThan(s.cfg.PriceTolerance) {
			return fmt.Errorf("%w: quote %s no longer matches market price %s", ErrInvalidPrice, req.Price, sidePrice)
		}

		if buy {
			if err := s.applyBuy(ctx, st, p.ID, m, req.Side, shares, req.Price, cost); err != nil {
				return err
			}
		} else {
			if err := s.applySell(ctx, st, p.ID, m, req.Side, shares, cost); err != nil {
				return err
			}
		}

		tr := &model.Trade{
			ID:        uuid.New().String(),
			UserID:    p.ID,
			MarketID:  m.ID,
			Side:      req.Side,
			Direction: direction,
			Shares:    shares,
			Price:     req.Price,
			Cost:      cost,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.InsertTrade(ctx, tr); err != nil {
			return err
		}

		// Side and shares were validated above, so an error here is a
		// programming error, not caller input.
		quote, err := amm.Apply(m.PriceYes, req.Side, shares, buy)
		if err != nil {
			return fmt.Errorf("apply price shift: %w", err)
		}

		sharesYes, sharesNo := m.SharesYes, m.SharesNo
		delta := shares
		if !buy {
			delta = shares.Neg()
		}
		if req.Side == model.SideYes {
			sharesYes = sharesYes.Add(delta)
		} else {
			sharesNo = sharesNo.Add(delta)
		}

		if err := st.UpdateMarketState(ctx, m.ID, quote.PriceYes, quote.PriceNo, sharesYes, sharesNo, m.Volume.Add(cost)); err != nil {
			return err
		}

		if err := s.audit.Success(ctx, st, p.ID, audit.ActionTrade, "market", m.ID,
			fmt.Sprintf("%s %s %s @ %s cost %s", direction, shares, req.Side, req.Price, cost)); err != nil {
			return err
		}

		account, err := st.GetAccount(ctx, p.ID)
		if err != nil {
			return err
		}

		resp = &TradeResponse{
			TradeID:   tr.ID,
			MarketID:  m.ID,
			Side:      req.Side,
			Direction: direction,
			Shares:    shares,
			Price:     req.Price,
			Cost:      cost,
			Balance:   account.Balance,
			PriceYes:  quote.PriceYes,
			PriceNo:   quote.PriceNo,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("trade executed",
		"trade_id", resp.TradeID,
		"user", p.ID,
		"market", resp.MarketID,
		"side", resp.Side,
		"direction", resp.Direction,
		"shares", resp.Shares.String(),
		"cost", resp.Cost.String(),
		"new_price_yes", resp.PriceYes.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_executed",
			MarketID:  resp.MarketID,
			PriceYes:  resp.PriceYes.String(),
			PriceNo:   resp.PriceNo.String(),
			Side:      resp.Side,
			Direction: resp.Direction,
			Shares:    resp.Shares.String(),
		})
	}

	return resp, nil
}

// applyBuy debits the account and folds the purchase into the position
// at weighted-average cost. The debit is a conditional update: a
// balance that would go negative aborts the whole transaction.
func (s *Service) applyBuy(ctx context.Context, st store.Store, userID string, m *model.Market, side string, shares, price, cost decimal.Decimal) error {
	positions, err := st.GetPositionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.exposure.CheckBuy(m.ID, shares, positions); err != nil {
		return err
	}

	if err := st.DebitAccount(ctx, userID, cost); err != nil {
		return err
	}

	pos, err := st.GetPosition(ctx, userID, m.ID, side)
	switch {
	case errors.Is(err, store.ErrPositionNotFound):
		pos = &model.Position{
			UserID:   userID,
			MarketID: m.ID,
			Side:     side,
			Shares:   shares,
			AvgPrice: price,
		}
	case err != nil:
		return err
	default:
		newShares := pos.Shares.Add(shares)
		pos.AvgPrice = pos.Shares.Mul(pos.AvgPrice).Add(shares.Mul(price)).Div(newShares)
		pos.Shares = newShares
	}

	return st.UpsertPosition(ctx, pos)
}

// applySell credits the proceeds and reduces the position. The average
// cost of the remaining shares is unchanged by a sale.
func (s *Service) applySell(ctx context.Context, st store.Store, userID string, m *model.Market, side string, shares, proceeds decimal.Decimal) error {
	pos, err := st.GetPosition(ctx, userID, m.ID, side)
	if errors.Is(err, store.ErrPositionNotFound) {
		return fmt.Errorf("%w: no %s position in market %s", ErrInsufficientShares, side, m.ID)
	}
	if err != nil {
		return err
	}
	if pos.Shares.LessThan(shares) {
		return fmt.Errorf("%w: hold %s, selling %s", ErrInsufficientShares, pos.Shares, shares)
	}

	if err := st.CreditAccount(ctx, userID, proceeds); err != nil {
		return err
	}

	pos.Shares = pos.Shares.Sub(shares)
	return st.UpsertPosition(ctx, pos)
}

// rejectionReason buckets an error for the rejection metric without
// leaking per-request detail into label cardinality.
func rejectionReason(err error) string {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrMarketNotActive):
		return "market_not_active"
	case errors.Is(err, store.ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, ErrInvalidShareCount), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidSide), errors.Is(err, ErrInvalidDirection):
		return "validation"
	default:
		return "other"
	}
}
