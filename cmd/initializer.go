package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/mifi/in-app-subscription-example/internal/config"
	"github.com/mifi/in-app-subscription-example/internal/handlers"
	"github.com/mifi/in-app-subscription-example/internal/logging"
	"github.com/mifi/in-app-subscription-example/internal/metrics"
	"github.com/mifi/in-app-subscription-example/internal/repositories"
	"github.com/mifi/in-app-subscription-example/internal/services"
	"github.com/mifi/in-app-subscription-example/utils"
)

type application struct {
	cfg      config.Config
	logger   *logging.Logger
	db       *sql.DB
	rdb      *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tokens   *utils.Manager

	subscriptionRepo *repositories.SubscriptionRepository
	processor        *services.PurchaseProcessor
	scheduler        *services.ReconciliationScheduler
	iapHandler       *handlers.IAPHandler
}

// initializeApp builds every dependency in order: storage, sweep lock,
// store validators, processor, scheduler, HTTP handlers.
func initializeApp(ctx context.Context, cfg config.Config, logger *logging.Logger) (*application, error) {
	app := &application{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(app.registry)

	dialect, err := repositories.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	app.db, err = repositories.OpenDB(ctx, dialect, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	app.subscriptionRepo = repositories.NewSubscriptionRepository(app.db, dialect)

	var lock services.SweepLocker
	if cfg.Redis.URL != "" {
		app.rdb, err = repositories.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			app.close()
			return nil, err
		}
		lock = repositories.NewRedisSweepLock(app.rdb, cfg.Redis.LockKey)
	}

	var (
		apple  services.PlatformValidator
		google services.PlatformValidator
		ack    services.Acknowledger
	)
	if cfg.Apple.SharedSecret != "" {
		svc, err := services.NewAppleIAPService(services.AppleIAPConfig{
			SharedSecret:           cfg.Apple.SharedSecret,
			ExcludeOldTransactions: cfg.Apple.ExcludeOldTransactions,
		})
		if err != nil {
			app.close()
			return nil, err
		}
		apple = svc
	}
	if cfg.Google.PackageName != "" {
		svc, err := services.NewGooglePlayService(ctx, services.GooglePlayConfig{
			PackageName:        cfg.Google.PackageName,
			ServiceAccountJSON: cfg.Google.ServiceAccountJSON,
		})
		if err != nil {
			app.close()
			return nil, err
		}
		google = svc
		ack = svc
	}
	if apple == nil && google == nil {
		app.close()
		return nil, errors.New("no store validator configured")
	}

	validator := services.NewReceiptValidator(apple, google, services.ReceiptValidatorConfig{
		Timeout: cfg.Reconcile.ValidatorTimeout,
	}, logger.With("module", "validator"))

	app.processor = services.NewPurchaseProcessor(validator, app.subscriptionRepo, ack, app.metrics)
	app.scheduler = services.NewReconciliationScheduler(services.ReconciliationConfig{
		Interval:    cfg.Reconcile.Interval,
		ItemTimeout: cfg.Reconcile.ItemTimeout,
		LockTTL:     cfg.Reconcile.LockTTL,
	}, app.subscriptionRepo, app.processor, lock, logger.With("module", "reconcile"), app.metrics)

	app.iapHandler = handlers.NewIAPHandler(app.processor, cfg.Google.PackageName, logger.With("module", "http"))

	if cfg.Auth.JWTSecret != "" {
		app.tokens, err = utils.NewManager(cfg.Auth.JWTSecret)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("jwt: %w", err)
		}
	}
	return app, nil
}

func (app *application) close() {
	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Errorf("close redis: %v", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Errorf("close db: %v", err)
		}
	}
}
