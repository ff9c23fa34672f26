package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/audit"
	"github.com/predex/ledger-engine/internal/auth"
	"github.com/predex/ledger-engine/internal/metrics"
	"github.com/predex/ledger-engine/internal/model"
	"github.com/predex/ledger-engine/internal/store"
)

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
//
// Settlement is exactly-once: the conditional Active→terminal status
// transition is the first write inside the transaction, so a second
// resolution observes AlreadyResolved and aborts before touching any
// balance. Payouts and the status change commit together or not at all.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.resolveMarket(r.Context(), p, marketID, req.Outcome)
	if err != nil {
		s.audit.Failure(r.Context(), p.ID, audit.ActionResolve, "market", marketID, err.Error())
		s.writeServiceError(w, "resolve market", err)
		return
	}
	metrics.ResolutionsTotal.WithLabelValues(resp.Outcome).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: marketID,
			Outcome:  resp.Outcome,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) resolveMarket(ctx context.Context, p auth.Principal, marketID, outcome string) (*ResolveResponse, error) {
	var side, status string
	switch outcome {
	case "yes":
		side, status = model.SideYes, model.StatusResolvedYes
	case "no":
		side, status = model.SideNo, model.StatusResolvedNo
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	var resp *ResolveResponse
	err := s.runTx(ctx, func(st store.Store) error {
		m, err := st.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if p.ID != m.CreatorID && !p.Admin() {
			return fmt.Errorf("%w: only the creator or an admin may resolve", ErrUnauthorized)
		}

		// Linearization point: the conditional transition fails for
		// every resolver but the first.
		if err := st.ResolveMarketStatus(ctx, marketID, status); err != nil {
			return err
		}

		winners, err := st.GetPositionsBySide(ctx, marketID, side)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, pos := range winners {
			payout := pos.Shares // par value: 1.0 per winning share
			if err := st.CreditAccount(ctx, pos.UserID, payout); err != nil {
				return err
			}
			if err := s.audit.Success(ctx, st, pos.UserID, audit.ActionPayout, "market", marketID,
				fmt.Sprintf("payout %s for %s %s shares", payout, pos.Shares, side)); err != nil {
				return err
			}
			metrics.PayoutsTotal.Inc()
			total = total.Add(payout)
		}

		if err := s.audit.Success(ctx, st, p.ID, audit.ActionResolve, "market", marketID,
			fmt.Sprintf("outcome %s, %d winners paid %s", outcome, len(winners), total)); err != nil {
			return err
		}

		resp = &ResolveResponse{
			MarketID:     marketID,
			Outcome:      outcome,
			WinnersCount: len(winners),
			PaidOutTotal: total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("market resolved",
		"market", marketID,
		"outcome", outcome,
		"winners", resp.WinnersCount,
		"paid_out", resp.PaidOutTotal.String(),
		"by", p.ID,
	)
	return resp, nil
}

// Grant handles POST /api/v1/admin/grant — an admin-only, bounded,
// rate-limited balance credit, audited like every other mutation.
func (s *Service) Grant(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.grant(r.Context(), p, req.TargetAccountID, req.Amount); err != nil {
		s.audit.Failure(r.Context(), p.ID, audit.ActionGrant, "account", req.TargetAccountID, err.Error())
		s.writeServiceError(w, "grant", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"target_account_id": req.TargetAccountID,
		"amount":            req.Amount.String(),
	})
}

func (s *Service) grant(ctx context.Context, p auth.Principal, targetID string, amount decimal.Decimal) error {
	if !p.Admin() {
		return fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	if targetID == "" {
		return fmt.Errorf("%w: target account required", ErrInvalidAmount)
	}
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(s.cfg.MaxGrant) {
		return fmt.Errorf("%w: %s outside (0, %s]", ErrInvalidAmount, amount, s.cfg.MaxGrant)
	}

	allowed, retryAfter, err := s.limiter.Allow(ctx, p.ID, OpGrant)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		metrics.RateLimitRejections.WithLabelValues(OpGrant).Inc()
		return &RateLimitError{RetryAfter: retryAfter}
	}

	err = s.runTx(ctx, func(st store.Store) error {
		if err := st.CreditAccount(ctx, targetID, amount); err != nil {
			return err
		}
		return s.audit.Success(ctx, st, p.ID, audit.ActionGrant, "account", targetID,
			"granted "+amount.String())
	})
	if err != nil {
		return err
	}

	slog.Info("balance granted", "target", targetID, "amount", amount.String(), "by", p.ID)
	return nil
}
