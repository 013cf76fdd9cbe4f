package server

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/dispatcher"
	"github.com/JakeFAU/crawl-worker/internal/export"
	collyfetcher "github.com/JakeFAU/crawl-worker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/crawl-worker/internal/fetcher/headless"
	"github.com/JakeFAU/crawl-worker/internal/handlers/bluesky"
	"github.com/JakeFAU/crawl-worker/internal/handlers/demo"
	"github.com/JakeFAU/crawl-worker/internal/handlers/page"
	"github.com/JakeFAU/crawl-worker/internal/handlers/youtube"
	"github.com/JakeFAU/crawl-worker/internal/hash/sha256"
	"github.com/JakeFAU/crawl-worker/internal/headless/detector"
	"github.com/JakeFAU/crawl-worker/internal/policy"
	"github.com/JakeFAU/crawl-worker/internal/progress"
	progresssinks "github.com/JakeFAU/crawl-worker/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/crawl-worker/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/crawl-worker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-worker/internal/storage/local"
	"github.com/JakeFAU/crawl-worker/internal/storage/memory"
)

func (a *App) buildEvents(ctx context.Context, reg prometheus.Registerer) (*progress.Hub, error) {
	cfg := a.cfg
	var sinks []progress.Sink
	if cfg.Events.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("events")))
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, promSink)

	if cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		publisher := client.Publisher(cfg.PubSub.TopicName)
		a.onClose("pubsub", func(context.Context) error {
			publisher.Stop()
			return client.Close()
		})
		sinks = append(sinks, progresssinks.NewPublisherSink(
			gcppublisher.New(publisher),
			cfg.PubSub.TopicName,
			a.logger.Named("events"),
		))
		a.logger.Info("Pub/Sub event publishing enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.Events.MaxBatchWait,
		Logger:         a.logger.Named("event_hub"),
	}, sinks...)
	return hub, nil
}

func (a *App) buildExporter(ctx context.Context, clock crawler.Clock) (dispatcher.Exporter, error) {
	cfg := a.cfg.Export
	var blobs crawler.BlobStore
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.onClose("local export", func(context.Context) error { return local.Close() })
		blobs = local
	case "memory":
		blobs = memory.NewBlobStore()
	default:
		a.logger.Info("result export disabled")
		return nil, nil
	}
	a.logger.Info("result export enabled", zap.String("backend", cfg.Backend), zap.String("prefix", cfg.Prefix))
	return export.New(blobs, cfg.Prefix, clock), nil
}

func (a *App) buildRegistry(clock crawler.Clock) *dispatcher.Registry {
	cfg := a.cfg
	limiter := policy.NewLimiter(policy.LimiterConfig{
		RPS:   cfg.Fetch.RateLimitRPS,
		Burst: cfg.Fetch.RateLimitBurst,
	})
	blocklist := policy.NewBlocklist(cfg.Fetch.BlockedDomains)
	fetcher := policy.NewFetcher(collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.Fetch.Timeout,
		MaxBodySize:   cfg.Fetch.MaxBodyBytes,
	}), limiter, blocklist)

	var headless crawler.Fetcher = headlessfetcher.Disabled{}
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewBrowser(headlessfetcher.Options{
			Tabs:       cfg.Headless.MaxParallel,
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    cfg.Headless.NavTimeout,
			ChromePath: cfg.Headless.ExecPath,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, pages are served from the static probe", zap.Error(err))
		} else {
			headless = policy.NewFetcher(chrome, limiter, blocklist)
			a.onClose("headless", func(context.Context) error { chrome.Close(); return nil })
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	registry := dispatcher.NewRegistry()
	registry.Register(page.Tag, page.New(
		fetcher,
		headless,
		detector.NewHeuristic(cfg.Headless.PromotionThreshold),
		sha256.New(),
		page.Config{RespectRobots: cfg.Fetch.RespectRobots},
		a.logger,
	), page.Alias)
	registry.Register(youtube.Tag, youtube.New(fetcher, youtube.Config{
		BaseURL:  cfg.YouTube.BaseURL,
		Language: cfg.YouTube.Lang,
	}, a.logger))
	registry.Register(bluesky.Tag, bluesky.New(fetcher, clock, bluesky.Config{
		APIBase: cfg.Bluesky.APIBase,
		Limit:   cfg.Bluesky.Limit,
		Filter:  cfg.Bluesky.Filter,
	}, a.logger))
	registry.Register(demo.Tag, demo.New())
	return registry
}
