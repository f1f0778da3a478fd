package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coursepass/coursepass-backend/api/routes"
	"github.com/coursepass/coursepass-backend/internal/access"
	"github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/internal/payments/paypalprovider"
	"github.com/coursepass/coursepass-backend/internal/payments/stripeprovider"
	"github.com/coursepass/coursepass-backend/internal/plans"
	"github.com/coursepass/coursepass-backend/internal/reconcile"
	"github.com/coursepass/coursepass-backend/internal/subscriptions"
	"github.com/coursepass/coursepass-backend/pkg/config"
	"github.com/coursepass/coursepass-backend/pkg/db"
	"github.com/coursepass/coursepass-backend/pkg/logger"
	"github.com/coursepass/coursepass-backend/pkg/metrics"
	"github.com/coursepass/coursepass-backend/pkg/migrate"
	"github.com/coursepass/coursepass-backend/pkg/redis"
	pkgstripe "github.com/coursepass/coursepass-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	planRepo := plans.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	subRepo := subscriptions.NewRepository(dbClient.DB())

	planSvc, err := plans.NewService(plans.ServiceParams{Repo: planRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan service", err)
		os.Exit(1)
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{Repo: orderRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}
	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{Repo: subRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}
	accessEval, err := access.NewEvaluator(access.EvaluatorParams{Repo: subRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create access evaluator", err)
		os.Exit(1)
	}

	var providerList []payments.Provider
	if cfg.Stripe.APIKey != "" {
		stripeClient, serr := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
		if serr != nil {
			logg.Error(context.Background(), "failed to create stripe client", serr)
			os.Exit(1)
		}
		stripeProv, perr := stripeprovider.NewProvider(stripeprovider.ProviderParams{
			API:        stripeprovider.NewAPI(),
			Client:     stripeClient,
			PriceCache: planRepo,
		})
		if perr != nil {
			logg.Error(context.Background(), "failed to create stripe provider", perr)
			os.Exit(1)
		}
		providerList = append(providerList, stripeProv)
	}
	if cfg.PayPal.ClientID != "" {
		paypalClient, perr := paypalprovider.NewClient(cfg.PayPal)
		if perr != nil {
			logg.Error(context.Background(), "failed to create paypal client", perr)
			os.Exit(1)
		}
		paypalProv, perr := paypalprovider.NewProvider(paypalprovider.ProviderParams{
			Client: paypalClient,
			Config: cfg.PayPal,
			Logger: logg,
		})
		if perr != nil {
			logg.Error(context.Background(), "failed to create paypal provider", perr)
			os.Exit(1)
		}
		providerList = append(providerList, paypalProv)
	}
	registry := payments.NewRegistry(providerList...)

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		OrderRepo:         orderRepo,
		SubscriptionRepo:  subRepo,
		PlanRepo:          planRepo,
		Providers:         registry,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	stripeGuard, err := reconcile.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "webhooks:stripe")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}
	paypalGuard, err := reconcile.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "webhooks:paypal")
	if err != nil {
		logg.Error(context.Background(), "failed to create paypal webhook guard", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Plans:       planSvc,
			Orders:      orderSvc,
			Subs:        subSvc,
			Access:      accessEval,
			Engine:      engine,
			Providers:   registry,
			StripeGuard: stripeGuard,
			PayPalGuard: paypalGuard,
			WebhookMet:  webhookMetrics,
		}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		// let in-flight requests drain before the process exits
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
