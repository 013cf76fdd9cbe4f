package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/api"
	"github.com/JakeFAU/crawl-worker/internal/config"
	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/hash/sha256"
	"github.com/JakeFAU/crawl-worker/internal/id/uuid"
	"github.com/JakeFAU/crawl-worker/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-worker/internal/storage/postgres"
	"github.com/JakeFAU/crawl-worker/internal/storage/rediscache"
)

// Stores is the persistence layer selected by configuration.
type Stores struct {
	// Store serves jobs, results and freshness lookups, with the Redis tier in
	// front when configured.
	Store crawler.Store
	// Lister pages through jobs on the backing store.
	Lister crawler.JobLister
	// Checks back the readiness probe.
	Checks []api.ReadinessCheck

	closers []func() error
}

// OpenStores connects the configured job store and wraps it with the Redis
// freshness tier when redis.url is set.
func OpenStores(ctx context.Context, cfg config.Config, clock crawler.Clock, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stores{}
	ids := uuid.New()

	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Store.Migrate {
			if err := pgstore.Migrate(cfg.Store.DSN, logger); err != nil {
				return nil, err
			}
		}
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Store.DSN,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
		}, clock, ids)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		s.Store, s.Lister = pg, pg
		s.Checks = append(s.Checks, api.ReadinessCheck{Name: "postgres", Check: pg.Ping})
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
		logger.Info("using postgres job store")
	default:
		mem := memory.NewStore(clock, ids)
		s.Store, s.Lister = mem, mem
		logger.Info("using in-memory job store")
	}

	if cfg.Redis.URL != "" {
		client, err := rediscache.Dial(ctx, rediscache.Config{URL: cfg.Redis.URL, Prefix: cfg.Redis.Prefix})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		s.Store = rediscache.New(s.Store, client, cfg.Redis.Prefix, sha256.New(), clock, logger)
		s.Checks = append(s.Checks, api.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		s.closers = append(s.closers, client.Close)
		logger.Info("redis freshness tier enabled", zap.String("prefix", cfg.Redis.Prefix))
	}
	return s, nil
}

// API returns the read/write surface the HTTP API serves from.
func (s *Stores) API() api.Store {
	return apiStore{Store: s.Store, JobLister: s.Lister}
}

// Close releases connections, newest first.
func (s *Stores) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

type apiStore struct {
	crawler.Store
	crawler.JobLister
}
