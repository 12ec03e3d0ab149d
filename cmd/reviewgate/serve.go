package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/reviewgate/internal/api"
	"github.com/LeventeLantos/reviewgate/internal/config"
	"github.com/LeventeLantos/reviewgate/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when DISPATCH_INTERVAL_SECONDS is set, the dispatch ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAll()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var ticker *scheduler.Ticker
	if cfg.Dispatch.Interval > 0 {
		ticker, err = scheduler.NewTicker(cfg.Dispatch.Interval, func(ctx context.Context) {
			a.dispatcher.SendDue(ctx)
			a.dispatcher.SendNudges(ctx)
		}, logger)
		if err != nil {
			return err
		}
	}

	h := api.NewHandler(api.Deps{
		Lifecycle:     a.lifecycle,
		Dispatcher:    a.dispatcher,
		Reconciler:    a.reconciler,
		Gate:          a.gate,
		Ticker:        ticker,
		Metrics:       promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		CronSecret:    cfg.Auth.CronSecret,
		SessionSecret: cfg.Auth.SessionJWTSecret,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("reviewgate starting",
		"addr", cfg.Server.Address,
		"driver", cfg.Database.Driver,
		"dispatch_interval", cfg.Dispatch.Interval.String(),
		"batch", cfg.Dispatch.BatchSize,
		"redis", cfg.Redis.Enabled,
		"events", cfg.Events.AMQPURL != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if ticker != nil {
		g.Go(func() error { return ticker.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
