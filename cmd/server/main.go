package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predex/ledger-engine/internal/audit"
	"github.com/predex/ledger-engine/internal/auth"
	"github.com/predex/ledger-engine/internal/config"
	"github.com/predex/ledger-engine/internal/exposure"
	"github.com/predex/ledger-engine/internal/metrics"
	"github.com/predex/ledger-engine/internal/ratelimit"
	"github.com/predex/ledger-engine/internal/store"
	"github.com/predex/ledger-engine/internal/trade"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis (cache + distributed rate limiting) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Store ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Rate limiter ---
	var limiter ratelimit.Limiter
	if rdb != nil {
		rl := ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.TradeLimit, cfg.RateLimit.Window)
		rl.SetOperationLimit(trade.OpGrant, cfg.RateLimit.GrantLimit)
		limiter = rl
		slog.Info("Redis rate limiter enabled")
	} else {
		ml := ratelimit.NewMemoryLimiter(cfg.RateLimit.TradeLimit, cfg.RateLimit.Window)
		ml.SetOperationLimit(trade.OpGrant, cfg.RateLimit.GrantLimit)
		limiter = ml
	}

	// --- Position limits ---
	expLimiter := exposure.NewLimiter(
		decimal.NewFromFloat(cfg.Exposure.MaxPerMarket),
		decimal.NewFromFloat(cfg.Exposure.MaxTotal),
	)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(st, limiter, expLimiter, audit.New(st), wsHub, trade.Config{
		StartingBalance:   decimal.NewFromFloat(cfg.Trading.StartingBalance),
		MaxSharesPerTrade: decimal.NewFromInt(cfg.Trading.MaxSharesPerTrade),
		PriceTolerance:    decimal.NewFromFloat(cfg.Trading.PriceTolerance),
		MaxGrant:          decimal.NewFromFloat(cfg.Trading.MaxGrant),
		TxRetries:         cfg.Trading.TxRetries,
		TxRetryBackoff:    cfg.Trading.TxRetryBackoff,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Every API route requires the verified identity headers from
		// the authentication gateway.
		r.Use(auth.Middleware)

		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Markets.
		r.Get("/markets", tradeSvc.ListMarkets)
		r.Post("/markets", tradeSvc.CreateMarket)
		r.Get("/markets/{marketID}", tradeSvc.GetMarket)
		r.Get("/markets/{marketID}/price", tradeSvc.GetPrice)
		r.Get("/markets/{marketID}/trades", tradeSvc.GetMarketTrades)
		r.Post("/markets/{marketID}/resolve", tradeSvc.ResolveMarket)

		// Trade execution.
		r.Post("/trade", tradeSvc.ExecuteTrade)

		// Accounts and portfolio.
		r.Post("/accounts", tradeSvc.CreateAccount)
		r.Get("/accounts/me", tradeSvc.GetAccount)
		r.Get("/portfolio", tradeSvc.GetPortfolio)

		// Admin.
		r.Post("/admin/grant", tradeSvc.Grant)
		r.Get("/admin/audit", tradeSvc.GetAuditLog)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
