// Package server assembles the service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-worker/internal/api"
	"github.com/JakeFAU/crawl-worker/internal/clock"
	"github.com/JakeFAU/crawl-worker/internal/config"
	"github.com/JakeFAU/crawl-worker/internal/dispatcher"
	"github.com/JakeFAU/crawl-worker/internal/metrics"
	"github.com/JakeFAU/crawl-worker/internal/queue"
	"github.com/JakeFAU/crawl-worker/internal/telemetry"
	"github.com/JakeFAU/crawl-worker/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Option customizes Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers lifecycle collectors against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	stores   *Stores
	queue    *queue.Queue
	registry *dispatcher.Registry
	worker   *worker.Worker
	api      *api.Server
	closers  []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. On error everything already
// opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose("tracer", tp.Shutdown)

	clk := clock.System{}
	app.stores, err = OpenStores(ctx, cfg, clk, logger)
	if err != nil {
		return nil, err
	}
	app.onClose("stores", func(context.Context) error { return app.stores.Close() })

	hub, err := app.buildEvents(ctx, o.registerer)
	if err != nil {
		return nil, err
	}
	app.onClose("event hub", hub.Close)

	exporter, err := app.buildExporter(ctx, clk)
	if err != nil {
		return nil, err
	}

	app.registry = app.buildRegistry(clk)

	app.queue = queue.New(app.stores.Store, hub, clk, logger)
	dispatch := dispatcher.New(
		app.registry,
		app.stores.Store,
		exporter,
		hub,
		clk,
		dispatcher.Config{CacheWindows: cfg.Cache.MaxAge},
		logger,
	)
	app.worker = worker.New(app.queue, dispatch, worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
		Filter:       cfg.Worker.Filter,
	}, logger)

	if cfg.Server.Enabled {
		app.api = api.NewServer(
			app.stores.API(),
			app.queue,
			api.Config{
				AuthEnabled: cfg.Auth.Enabled,
				APIKey:      cfg.Auth.APIKey,
				Workers:     app.registry.Workers(),
			},
			logger,
			app.stores.Checks...,
		)
	}

	logger.Info("application built",
		zap.String("store", cfg.Store.Backend),
		zap.Bool("redis", cfg.Redis.URL != ""),
		zap.String("export", cfg.Export.Backend),
		zap.Strings("workers", app.registry.Workers()),
		zap.Bool("api", cfg.Server.Enabled),
	)
	return app, nil
}

// Queue exposes the job queue for producers running in-process.
func (a *App) Queue() *queue.Queue {
	return a.queue
}

// Handler returns the API handler, or nil when the API is disabled.
func (a *App) Handler() http.Handler {
	if a.api == nil {
		return nil
	}
	return a.api.Handler()
}

// Run starts the poll loop and, when enabled, the HTTP API. It blocks until
// ctx is cancelled, SIGINT/SIGTERM arrives, or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.worker.Run(ctx)
		return nil
	})

	if a.api != nil {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(shutdownCtx)
	return err
}

// Close releases everything Build opened, newest first. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}
