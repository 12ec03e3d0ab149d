package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/LeventeLantos/reviewgate/internal/cache"
	"github.com/LeventeLantos/reviewgate/internal/client"
	"github.com/LeventeLantos/reviewgate/internal/config"
	"github.com/LeventeLantos/reviewgate/internal/events"
	"github.com/LeventeLantos/reviewgate/internal/metrics"
	"github.com/LeventeLantos/reviewgate/internal/repo"
	"github.com/LeventeLantos/reviewgate/internal/scheduler"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

// app holds the wired services shared by serve and dispatch.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	rdb       *redis.Client
	publisher events.Publisher
	registry  *prometheus.Registry

	lifecycle  *service.Lifecycle
	dispatcher *service.Dispatcher
	reconciler *service.Reconciler
	gate       *service.Gate
}

func openStore(ctx context.Context, dbCfg config.DatabaseConfig) (*sql.DB, repo.Dialect, error) {
	dialect, err := repo.ParseDialect(dbCfg.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := repo.Open(ctx, dialect, dbCfg.URL)
	if err != nil {
		return nil, "", err
	}
	return db, dialect, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, dialect, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := repo.Migrate(db, dialect); err != nil {
		return nil, err
	}
	store := repo.NewSQLStore(db, dialect)

	var sentCache cache.SentCache = cache.Noop{}
	if cfg.Redis.Enabled {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		sentCache = cache.NewRedisCache(a.rdb, cfg.Redis.TTL)
	}

	a.publisher = events.NewNoopPublisher(logger)
	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewRabbitMQPublisher(cfg.Events.AMQPURL, logger)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	gateway := client.NewBreakerClient(
		client.NewWebhookClient(cfg.Gateway.URL, cfg.Gateway.StatusCallbackURL),
		client.BreakerConfig{
			FailureThreshold: uint32(cfg.Gateway.BreakerFailures),
			OpenTimeout:      cfg.Gateway.BreakerOpen,
			OnStateChange:    func(to gobreaker.State) { m.BreakerState(int(to)) },
		},
		logger,
	)

	opts := service.Options{
		Logger:    logger,
		Publisher: a.publisher,
		Metrics:   m,
		Cache:     sentCache,
	}
	quiet := scheduler.DefaultQuietHours(cfg.Locale.QuietHoursLocation)

	a.lifecycle = service.NewLifecycle(store, quiet, cfg.Locale.PhonePolicy, opts)
	a.dispatcher = service.NewDispatcher(store, a.lifecycle, gateway, service.DispatchConfig{
		BatchSize:     cfg.Dispatch.BatchSize,
		SendPause:     cfg.Dispatch.SendPause,
		ClaimLease:    cfg.Dispatch.ClaimLease,
		ContentMax:    cfg.Gateway.ContentMax,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}, opts)
	a.reconciler = service.NewReconciler(store, a.lifecycle, cfg.Gateway.WebhookSecret, opts)
	a.gate = service.NewGate(store, a.lifecycle, opts)

	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", "error", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
