// Package trade provides the HTTP handlers and business logic for
// executing trades, resolving markets, granting balances, and querying
// accounts, positions, and the audit trail.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/audit"
	"github.com/predex/ledger-engine/internal/auth"
	"github.com/predex/ledger-engine/internal/exposure"
	"github.com/predex/ledger-engine/internal/metrics"
	"github.com/predex/ledger-engine/internal/model"
	"github.com/predex/ledger-engine/internal/ratelimit"
	"github.com/predex/ledger-engine/internal/store"
)

// Rate-limited operation names.
const (
	OpTrade = "trade"
	OpGrant = "grant"
)

// Config holds the execution bounds the service enforces.
type Config struct {
	StartingBalance   decimal.Decimal
	MaxSharesPerTrade decimal.Decimal
	PriceTolerance    decimal.Decimal
	MaxGrant          decimal.Decimal
	TxRetries         int
	TxRetryBackoff    time.Duration
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		StartingBalance:   decimal.NewFromInt(1000),
		MaxSharesPerTrade: decimal.NewFromInt(1000),
		PriceTolerance:    decimal.NewFromFloat(0.01),
		MaxGrant:          decimal.NewFromInt(10000),
		TxRetries:         3,
		TxRetryBackoff:    10 * time.Millisecond,
	}
}

// Service composes the stores, limiters, and audit log into the trade
// executor and market resolver. All mutations run inside store
// transactions; the only error retried automatically is a
// serialization conflict.
type Service struct {
	store    store.Store
	limiter  ratelimit.Limiter
	exposure *exposure.Limiter
	audit    *audit.Logger
	cfg      Config
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter ratelimit.Limiter, exp *exposure.Limiter, aud *audit.Logger, hub *WSHub, cfg Config) *Service {
	return &Service{
		store:    st,
		limiter:  limiter,
		exposure: exp,
		audit:    aud,
		cfg:      cfg,
		wsHub:    hub,
	}
}

// runTx runs fn inside a store transaction, retrying serialization
// conflicts with bounded exponential backoff. No other error kind is
// retried.
func (s *Service) runTx(ctx context.Context, fn func(store.Store) error) error {
	backoff := s.cfg.TxRetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, store.ErrSerialization) || attempt >= s.cfg.TxRetries {
			return err
		}
		metrics.TxRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade. The acting principal
// comes from the verified request context, never from this body.
type TradeRequest struct {
	MarketID  string          `json:"market_id"`
	Side      string          `json:"side"`      // "YES" or "NO"
	Direction string          `json:"direction"` // "buy" or "sell"; empty = buy
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"` // quoted price per share
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	TradeID   string          `json:"trade_id"`
	MarketID  string          `json:"market_id"`
	Side      string          `json:"side"`
	Direction string          `json:"direction"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Balance   decimal.Decimal `json:"balance"`
	PriceYes  decimal.Decimal `json:"price_yes"`
	PriceNo   decimal.Decimal `json:"price_no"`
}

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question string `json:"question"`
}

// ResolveRequest is the JSON body for market resolution.
type ResolveRequest struct {
	Outcome string `json:"outcome"` // "yes" or "no"
}

// ResolveResponse summarizes a settlement.
type ResolveResponse struct {
	MarketID     string          `json:"market_id"`
	Outcome      string          `json:"outcome"`
	WinnersCount int             `json:"winners_count"`
	PaidOutTotal decimal.Decimal `json:"paid_out_total"`
}

// GrantRequest is the JSON body for an admin balance grant.
type GrantRequest struct {
	TargetAccountID string          `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
}

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	AccountID string `json:"account_id"`
}

// --- Read handlers ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		s.writeServiceError(w, "list markets", err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		s.writeServiceError(w, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		s.writeServiceError(w, "get price", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": market.PriceYes,
		"no":  market.PriceNo,
	})
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	trades, err := s.store.GetTradesByMarket(r.Context(), marketID)
	if err != nil {
		s.writeServiceError(w, "get market trades", err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetAccount handles GET /api/v1/accounts/me
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}

	account, err := s.store.GetAccount(r.Context(), p.ID)
	if err != nil {
		s.writeServiceError(w, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetPortfolio handles GET /api/v1/portfolio
// Returns the principal's balance and open positions with mark-to-market P&L.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, p.ID)
	if err != nil {
		s.writeServiceError(w, "get portfolio account", err)
		return
	}

	positions, err := s.store.GetPositionsByUser(ctx, p.ID)
	if err != nil {
		s.writeServiceError(w, "get portfolio positions", err)
		return
	}

	totalPnL := decimal.Zero
	annotated := make([]model.PortfolioPosition, 0, len(positions))
	for _, pos := range positions {
		m, err := s.store.GetMarket(ctx, pos.MarketID)
		if err != nil {
			s.writeServiceError(w, "get portfolio market", err)
			return
		}
		price := m.PriceYes
		if pos.Side == model.SideNo {
			price = m.PriceNo
		}
		value := price.Mul(pos.Shares)
		pnl := value.Sub(pos.AvgPrice.Mul(pos.Shares))
		totalPnL = totalPnL.Add(pnl)

		annotated = append(annotated, model.PortfolioPosition{
			Position:      pos,
			CurrentPrice:  price,
			CurrentValue:  value,
			UnrealizedPnL: pnl,
		})
	}

	writeJSON(w, http.StatusOK, model.Portfolio{
		UserID:    p.ID,
		Balance:   account.Balance,
		Positions: annotated,
		TotalPnL:  totalPnL,
	})
}

// GetAuditLog handles GET /api/v1/admin/audit?user=&limit=
func (s *Service) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}
	if !p.Admin() {
		writeError(w, "admin role required", http.StatusForbidden)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.store.GetAuditEntries(r.Context(), r.URL.Query().Get("user"), limit)
	if err != nil {
		s.writeServiceError(w, "get audit log", err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Account and market creation ---

// CreateAccount handles POST /api/v1/accounts (admin).
// Accounts start with the configured balance; onboarding identity is
// the caller's concern.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}
	if !p.Admin() {
		writeError(w, "admin role required", http.StatusForbidden)
		return
	}

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	account := &model.Account{
		ID:        req.AccountID,
		Balance:   s.cfg.StartingBalance,
		CreatedAt: time.Now().UTC(),
	}

	ctx := r.Context()
	err := s.runTx(ctx, func(st store.Store) error {
		if err := st.CreateAccount(ctx, account); err != nil {
			return err
		}
		return s.audit.Success(ctx, st, p.ID, audit.ActionCreateAccount, "account", account.ID,
			"starting balance "+account.Balance.String())
	})
	if err != nil {
		s.audit.Failure(ctx, p.ID, audit.ActionCreateAccount, "account", req.AccountID, err.Error())
		if errors.Is(err, store.ErrAccountExists) {
			writeError(w, "account already exists", http.StatusConflict)
			return
		}
		s.writeServiceError(w, "create account", err)
		return
	}

	slog.Info("account created", "id", account.ID, "by", p.ID)
	writeJSON(w, http.StatusCreated, account)
}

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "missing principal", http.StatusUnauthorized)
		return
	}

	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}

	half := decimal.NewFromFloat(0.5)
	market := &model.Market{
		ID:        uuid.New().String(),
		Question:  req.Question,
		Status:    model.StatusActive,
		PriceYes:  half,
		PriceNo:   half,
		SharesYes: decimal.Zero,
		SharesNo:  decimal.Zero,
		Volume:    decimal.Zero,
		CreatorID: p.ID,
		CreatedAt: time.Now().UTC(),
	}

	ctx := r.Context()
	err := s.runTx(ctx, func(st store.Store) error {
		if err := st.CreateMarket(ctx, market); err != nil {
			return err
		}
		return s.audit.Success(ctx, st, p.ID, audit.ActionCreateMarket, "market", market.ID, req.Question)
	})
	if err != nil {
		s.audit.Failure(ctx, p.ID, audit.ActionCreateMarket, "market", market.ID, err.Error())
		s.writeServiceError(w, "create market", err)
		return
	}

	slog.Info("market created", "id", market.ID, "creator", p.ID, "question", req.Question)
	writeJSON(w, http.StatusCreated, market)
}

// --- Error mapping ---

// writeServiceError maps domain errors onto HTTP statuses. Unknown
// errors are logged in full and surfaced as an opaque 500.
func (s *Service) writeServiceError(w http.ResponseWriter, op string, err error) {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())+1))
		writeError(w, err.Error(), http.StatusTooManyRequests)

	case errors.Is(err, store.ErrMarketNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrPositionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)

	case errors.Is(err, ErrInvalidShareCount),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidDirection),
		errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)

	case errors.Is(err, ErrMarketNotActive),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, exposure.ErrMarketLimitExceeded),
		errors.Is(err, exposure.ErrTotalLimitExceeded):
		writeError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)

	case errors.Is(err, store.ErrSerialization):
		// Retries exhausted; the caller may try again.
		writeError(w, "temporarily unable to serialize transaction, retry", http.StatusServiceUnavailable)

	default:
		slog.Error("internal error", "op", op, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
