package main

import (
	"context"
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

	"github.com/chiptally/settle-engine/internal/audit"
	"github.com/chiptally/settle-engine/internal/ledger"
	"github.com/chiptally/settle-engine/internal/lock"
	"github.com/chiptally/settle-engine/internal/metrics"
	"github.com/chiptally/settle-engine/internal/settle"
	"github.com/chiptally/settle-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.InitSchema(ctx); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
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

	// --- Policy knobs ---
	tolerance := ledger.DefaultTolerance
	if v := os.Getenv("LEDGER_TOLERANCE"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil || !parsed.IsPositive() {
			slog.Error("invalid LEDGER_TOLERANCE", "value", v)
			os.Exit(1)
		}
		tolerance = parsed
	}

	lockTTL := lock.DefaultTTL
	if v := os.Getenv("LOCK_TTL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			slog.Error("invalid LOCK_TTL", "value", v)
			os.Exit(1)
		}
		lockTTL = parsed
	}

	sweepInterval := lock.DefaultSweepInterval
	if v := os.Getenv("LOCK_SWEEP_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			slog.Error("invalid LOCK_SWEEP_INTERVAL", "value", v)
			os.Exit(1)
		}
		sweepInterval = parsed
	}

	// --- Engine wiring ---
	locks := lock.NewCoordinator(st, lockTTL)
	go locks.RunSweeper(ctx, sweepInterval)

	hub := settle.NewHub()
	go hub.Run()

	aggregator := ledger.NewAggregator(tolerance)
	auditLog := audit.NewLog(st)
	orch := settle.NewOrchestrator(st, locks, aggregator, auditLog, hub)
	svc := settle.NewService(st, orch, auditLog)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settle-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for settlement lifecycle events.
		r.Get("/ws", hub.HandleWS)

		// Game and ledger intake.
		r.Post("/games", svc.CreateGame)
		r.Get("/games/{gameID}", svc.GetGame)
		r.Post("/games/{gameID}/transactions", svc.RecordTransaction)
		r.Post("/games/{gameID}/complete", svc.CompleteGame)
		r.Get("/games/{gameID}/positions", svc.GetPositions)

		// Settlement calculation and reads.
		r.Post("/games/{gameID}/calculate", svc.Calculate)
		r.Get("/games/{gameID}/settlements", svc.GetSettlements)
		r.Post("/settlements/{settlementID}/complete", svc.CompleteSettlement)

		// Audit history.
		r.Get("/games/{gameID}/audit", svc.GetGameAudit)
		r.Get("/audit", svc.GetActorAudit)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settle-engine listening", "port", port, "lock_ttl", lockTTL.String(), "tolerance", tolerance.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settle-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settle-engine stopped")
}
