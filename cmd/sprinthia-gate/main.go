package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/sprintiq/sprinthia-gate/config"
	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/auth"
	"github.com/sprintiq/sprinthia-gate/internal/executor"
	"github.com/sprintiq/sprinthia-gate/internal/gate"
	"github.com/sprintiq/sprinthia-gate/internal/metering"
	"github.com/sprintiq/sprinthia-gate/internal/provider/openai"
	"github.com/sprintiq/sprinthia-gate/internal/seeder"
	"github.com/sprintiq/sprinthia-gate/internal/telemetry"
	"github.com/sprintiq/sprinthia-gate/internal/tier"
	"github.com/sprintiq/sprinthia-gate/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("sprinthia-gate", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	tokenStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(tokenStore, rdb)

	// 6. Init metering
	policy := tier.NewPolicy(cfg.FreeMonthlyQuota, cfg.ProWeeklyQuota, cfg.SpikesPerAnalysis)
	meter := metering.NewController(pool, policy)
	requestStore := analysis.NewPostgresStore(pool)

	// 7. Init burst limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.BurstLimitPerMinute)

	// 8. Init analysis executor
	sprinthia := openai.New(cfg.OpenAIAPIKey)
	exec := executor.New(requestStore, sprinthia, cfg.AnalysisTimeout)

	// 9. Init handler
	tracer := otel.GetTracerProvider().Tracer("sprinthia-gate")
	handler := gate.NewHandler(meter, requestStore, exec, limiter, tracer)

	// 10. Seed test account if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAccount(ctx, pool, tokenStore, meter)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"sprinthia-gate"}`))
	})
	r.Get("/v1/analysis-kinds", handler.HandleAnalysisKinds)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Post("/v1/analyze", handler.HandleAnalyze)
		r.Get("/v1/analysis/{id}", handler.HandleGetAnalysis)
		r.Get("/v1/history", handler.HandleHistory)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Sprinthia gate starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
