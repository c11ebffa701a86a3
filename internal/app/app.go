// Package app assembles the reconciler's components from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tablepay/payments-reconciler/api"
	"github.com/tablepay/payments-reconciler/internal/config"
	"github.com/tablepay/payments-reconciler/internal/gateway"
	"github.com/tablepay/payments-reconciler/internal/handler"
	"github.com/tablepay/payments-reconciler/internal/middleware"
	"github.com/tablepay/payments-reconciler/internal/repository"
	"github.com/tablepay/payments-reconciler/internal/service"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	Gateway     *gateway.StripeClient
	Ledger      *repository.GatewayEventRepository
	Orders      *repository.OrderRepository
	Transitions *repository.OrderTransitionRepository
	Idempotency *repository.IdempotencyRepository

	Applier    *service.Applier
	Reconciler *service.Reconciler
	Checkout   *service.CheckoutService
	Dispatcher *service.Dispatcher
	Sweeper    *service.Sweeper
	Janitor    *service.IdempotencyJanitor

	docs            *handler.DocsHandler
	webhookLimiter  *middleware.KeyedLimiter
	operatorLimiter *middleware.KeyedLimiter
	clientIP        middleware.KeyFunc

	wg sync.WaitGroup
}

// New connects to the database and builds every component. Background
// workers are not started until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}, cfg.DBConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, db: pool}

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.docs, err = handler.NewDocsHandler(api.Spec, "tablepay payments reconciler")
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.clientIP = middleware.ClientIPKey(trusted)
	a.webhookLimiter = middleware.NewKeyedLimiter(cfg.WebhookRatePerMinute, cfg.WebhookRateBurst, cfg.RateLimitIdleTTL)
	a.operatorLimiter = middleware.NewKeyedLimiter(cfg.ReconcileRatePerMinute, cfg.ReconcileRateBurst, cfg.RateLimitIdleTTL)

	a.Gateway = gateway.NewStripeClient(gateway.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
		APIURL:        cfg.StripeAPIURL,
		Tolerance:     cfg.WebhookTolerance,
	})

	a.Ledger = repository.NewGatewayEventRepository(pool)
	a.Orders = repository.NewOrderRepository(pool)
	a.Transitions = repository.NewOrderTransitionRepository(pool)
	a.Idempotency = repository.NewIdempotencyRepository(pool)

	a.Applier = service.NewApplier(a.Ledger, a.Orders, a.Transitions, repository.NewDB(pool), service.ApplierConfig{
		MaxAttempts:    cfg.ApplyMaxAttempts,
		InitialBackoff: cfg.ApplyInitialBackoff,
		MaxBackoff:     cfg.ApplyMaxBackoff,
		RedriveLimit:   cfg.ApplyRedriveLimit,
	}, time.Now)

	a.Reconciler = service.NewReconciler(a.Gateway, a.Ledger, a.Applier, logger.With("component", "reconciler"), service.ReconcilerConfig{
		MaxLimit:           cfg.ReconcileMaxLimit,
		MaxWindowHours:     cfg.ReconcileMaxWindowHours,
		Workers:            cfg.ReconcileWorkers,
		Budget:             cfg.ReconcileBudget,
		FetchAttempts:      cfg.ReconcileFetchAttempts,
		FetchBackoff:       cfg.ReconcileFetchBackoff,
		Interval:           cfg.ReconcileInterval,
		DefaultLimit:       cfg.ReconcileDefaultLimit,
		DefaultWindowHours: cfg.ReconcileDefaultWindowHours,
	}, time.Now)

	a.Checkout = service.NewCheckoutService(a.Gateway, a.Orders)
	a.Dispatcher = service.NewDispatcher(a.Applier, logger.With("component", "dispatcher"), cfg.DispatchWorkers, cfg.DispatchQueueSize)
	a.Sweeper = service.NewSweeper(a.Ledger, a.Applier, logger.With("component", "sweeper"), cfg.SweepInterval, cfg.SweepGrace, cfg.SweepBatchSize)
	a.Janitor = service.NewIdempotencyJanitor(a.Idempotency, logger.With("component", "idempotency_janitor"), cfg.IdempotencyPurgeInterval)

	return a, nil
}

// Routes returns the HTTP surface with the global middleware applied.
func (a *App) Routes() http.Handler {
	webhooks := handler.NewWebhookHandler(a.Ledger, a.Dispatcher)
	reconcile := handler.NewReconcileHandler(a.Reconciler, a.cfg.ReconcileDefaultLimit, a.cfg.ReconcileDefaultWindowHours)
	checkout := handler.NewCheckoutHandler(a.Checkout)
	orders := handler.NewOrderHandler(a.Orders, a.Transitions)
	health := handler.NewHealthHandler(a.db)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /health/ready", health.Readiness)
	mux.HandleFunc("GET /docs", a.docs.UI)
	mux.HandleFunc("GET "+handler.SpecPath, a.docs.Spec)

	mux.Handle("POST /api/v1/webhooks/gateway", middleware.Chain(
		http.HandlerFunc(webhooks.ReceiveGatewayWebhook),
		middleware.RateLimit(a.webhookLimiter, a.clientIP),
		middleware.VerifyWebhook(a.Gateway, a.cfg.WebhookMaxBodyBytes),
	))
	mux.Handle("POST /api/v1/reconcile", middleware.Chain(
		http.HandlerFunc(reconcile.Trigger),
		middleware.RequireOperator(a.cfg.OperatorTokenSecret),
		middleware.RateLimit(a.operatorLimiter, middleware.OperatorKey),
	))
	mux.Handle("POST /api/v1/checkout/sessions", middleware.Chain(
		http.HandlerFunc(checkout.CreateSession),
		middleware.Idempotency(a.Idempotency, a.cfg.IdempotencyTTL),
	))
	mux.HandleFunc("GET /api/v1/orders/{id}", orders.Get)

	return middleware.Chain(mux, middleware.Tracing, middleware.Logging, middleware.Recovery)
}

// Start launches the background workers. They stop when ctx is cancelled;
// Stop waits for them.
func (a *App) Start(ctx context.Context) {
	// queued events finish applying during shutdown
	a.Dispatcher.Start(context.WithoutCancel(ctx))

	if a.cfg.SweepInterval > 0 {
		a.goLoop(func() { a.Sweeper.Start(ctx) })
	}
	if a.cfg.IdempotencyPurgeInterval > 0 {
		a.goLoop(func() { a.Janitor.Start(ctx) })
	}
	if a.cfg.RateLimitSweepInterval > 0 && a.cfg.RateLimitIdleTTL > 0 {
		limiterLog := a.logger.With("component", "rate_limiter")
		a.goLoop(func() { a.webhookLimiter.Start(ctx, a.cfg.RateLimitSweepInterval, limiterLog) })
		a.goLoop(func() { a.operatorLimiter.Start(ctx, a.cfg.RateLimitSweepInterval, limiterLog) })
	}
	if a.cfg.ReconcileInterval > 0 {
		a.goLoop(func() { a.Reconciler.Start(ctx) })
	} else {
		a.logger.Info("scheduled reconciliation disabled")
	}
}

func (a *App) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop drains the dispatcher, waits for the loops and closes the pool.
func (a *App) Stop() {
	a.Dispatcher.Stop()
	a.wg.Wait()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// Close releases the pool for callers that never started the workers.
func (a *App) Close() error {
	return a.db.Close()
}
