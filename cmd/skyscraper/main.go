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
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	skhttp "github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/http"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/litellm"
	sknats "github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/nats"
	skotel "github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/otel"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/postgres"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/ristretto"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/config"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/logger"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/middleware"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/resilience"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"billing_bypass", cfg.Billing.Bypass,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := sknats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	planCache, err := ristretto.New(cfg.Quota.PlanCacheSizeMB << 20)
	if err != nil {
		return fmt.Errorf("plan cache: %w", err)
	}
	defer planCache.Close()

	shutdownMeter, err := skotel.InitMeter(ctx, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMeter(shutdownCtx)
	}()

	shutdownTracer, err := skotel.InitTracer(ctx, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	metrics, err := skotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	members := postgres.NewDirectory(pool)
	registry := agent.NewRegistry(agent.Builtin())

	quotaSvc := service.NewQuotaService(store, members, planCache, cfg.Quota.PlanCacheTTL)
	walletSvc := service.NewWalletService(store, quotaSvc, cfg.Billing)
	walletSvc.SetMetrics(metrics)

	model := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.APIKey, cfg.LiteLLM.Model, cfg.LiteLLM.Timeout)
	model.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	runner := service.NewRunner(registry, model, cfg.Dispatch.TaskTimeout)
	runner.SetMetrics(metrics)

	workers := make(map[agent.ID]int, len(cfg.Dispatch.AgentWorkers))
	for id, n := range cfg.Dispatch.AgentWorkers {
		workers[agent.ID(id)] = n
	}
	dispatcher := service.NewDispatcher(registry, runner, queue, cfg.Dispatch.Workers, workers, cfg.Dispatch.MaxBackoff)
	dispatcher.SetMetrics(metrics)

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	submitSvc := service.NewSubmitService(registry, runner, dispatcher, walletSvc)

	// --- HTTP ---

	handlers := &skhttp.Handlers{
		Submit:   submitSvc,
		Wallet:   walletSvc,
		Quota:    quotaSvc,
		Registry: registry,
	}

	r := chi.NewRouter()
	r.Use(skhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(skhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(3 * time.Minute))
	r.Use(middleware.TenantContext(store))

	skhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "skyscraper"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return queue.Drain()
	})

	return g.Wait()
}
