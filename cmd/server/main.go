package main

import (
	"context"
	"encoding/json"
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

	"github.com/folio/market-engine/internal/benchmark"
	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/config"
	"github.com/folio/market-engine/internal/fetcher"
	"github.com/folio/market-engine/internal/gapfill"
	"github.com/folio/market-engine/internal/metrics"
	"github.com/folio/market-engine/internal/notify"
	"github.com/folio/market-engine/internal/orchestrator"
	"github.com/folio/market-engine/internal/portfolio"
	"github.com/folio/market-engine/internal/provider"
	"github.com/folio/market-engine/internal/retry"
	"github.com/folio/market-engine/internal/store"
	"github.com/folio/market-engine/internal/timeseries"
	"github.com/folio/market-engine/internal/warmer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.PriceStore
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.RedisTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.RedisTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price cache ---
	priceCache := cache.New(
		cache.WithShards(cfg.CacheShards),
		cache.WithMaxEntries(cache.Current, cfg.CacheMaxEntries),
		cache.WithMaxEntries(cache.Historical, cfg.CacheMaxEntries),
		cache.WithMaxEntries(cache.Intraday, cfg.CacheMaxEntries),
	)
	go priceCache.Run(ctx, cfg.CacheSweepInterval)

	// --- WebSocket hub ---
	hub := notify.NewHub()
	go hub.Run(ctx)

	// --- Market data ---
	yahoo := provider.NewYahoo()
	policy := retry.New(cfg.FetchMaxRetries, cfg.FetchBaseDelay)

	prices := fetcher.New(yahoo, priceCache,
		fetcher.WithPolicy(policy),
		fetcher.WithSink(hub),
		fetcher.WithWorkers(cfg.OrchestratorWorkers),
	)
	history := gapfill.New(st, prices, priceCache)
	orch := orchestrator.New(prices, history,
		orchestrator.WithWorkers(cfg.OrchestratorWorkers),
		orchestrator.WithDeadline(cfg.OrchestratorDeadline),
	)
	builder := timeseries.NewBuilder(history, prices, cfg.OrchestratorWorkers, time.Now)
	bench := benchmark.New(yahoo,
		benchmark.WithSymbol(cfg.BenchmarkSymbol),
		benchmark.WithPolicy(policy),
	)

	svc := portfolio.NewService(portfolio.Deps{
		Fetcher:      prices,
		History:      history,
		Orchestrator: orch,
		Builder:      builder,
		Benchmark:    bench,
		Store:        st,
		Cache:        priceCache,
	})

	// --- Background jobs ---
	sched := warmer.New()
	if len(cfg.WarmTickers) > 0 {
		if err := sched.AddJob(cfg.WarmSchedule, warmer.NewPriceWarmJob(prices, cfg.WarmTickers)); err != nil {
			slog.Error("invalid WARM_SCHEDULE", "schedule", cfg.WarmSchedule, "err", err)
			os.Exit(1)
		}
	}
	if err := sched.AddJob("@daily", warmer.NewRetentionJob(st, cfg.Retention(), nil)); err != nil {
		slog.Error("retention job registration failed", "err", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", healthHandler(hub))

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", hub.HandleWS)

		// Prices.
		r.Post("/prices", svc.GetPrices)
		r.Get("/prices/{ticker}", svc.GetPrice)
		r.Get("/prices/{ticker}/history", svc.GetPriceHistory)
		r.Delete("/prices/{ticker}", svc.InvalidateTicker)

		// Tickers.
		r.Get("/tickers/{ticker}/validate", svc.ValidateSymbol)
		r.Get("/tickers/{ticker}/name", svc.GetName)

		// Portfolio valuation.
		r.Post("/portfolio/summary", svc.GetSummary)
		r.Post("/portfolio/history", svc.GetHistory)
		r.Post("/portfolio/intraday", svc.GetIntraday)
		r.Post("/positions/summary", svc.GetPositionsSummary)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"benchmark", bench.Symbol(),
			"workers", orch.Workers(),
			"retry_delays", policy.Delays(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	sched.Stop()
	fmt.Println("market-engine stopped")
}

type clientCounter interface {
	Clients() int
}

// healthHandler reports liveness and the number of live WebSocket clients.
func healthHandler(hub clientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"service":    "market-engine",
			"ws_clients": hub.Clients(),
		})
	}
}
