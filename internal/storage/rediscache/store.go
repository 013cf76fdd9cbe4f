// Package rediscache puts a Redis read-through tier in front of a crawler.Store's
// freshness lookups. Redis failures degrade to the underlying store.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/metrics"
)

// DefaultPrefix namespaces keys when Config.Prefix is empty.
const DefaultPrefix = "crawl-worker"

// Config controls the Redis connection.
type Config struct {
	URL    string
	Prefix string
}

// KeyHasher digests key parts into a fixed-width token.
type KeyHasher interface {
	Key(parts ...string) string
}

type entry struct {
	Result       crawler.Result `json:"result"`
	JobCreatedAt time.Time      `json:"job_created_at"`
}

// Store wraps a crawler.Store and caches GetCachedResult hits in Redis.
type Store struct {
	crawler.Store
	client redis.UniversalClient
	prefix string
	hasher KeyHasher
	clock  crawler.Clock
	logger *zap.Logger
}

// Dial parses cfg.URL and pings the server.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wraps next with a Redis tier.
func New(
	next crawler.Store,
	client redis.UniversalClient,
	prefix string,
	hasher KeyHasher,
	clock crawler.Clock,
	logger *zap.Logger,
) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Store:  next,
		client: client,
		prefix: prefix,
		hasher: hasher,
		clock:  clock,
		logger: logger.Named("rediscache"),
	}
}

// Key returns the Redis key for (worker, requestKey).
func (s *Store) Key(worker, requestKey string) string {
	return strings.Join([]string{s.prefix, "fresh", worker, s.hasher.Key(worker, requestKey)}, ":")
}

// GetCachedResult consults Redis first, re-checking the window against the job's creation
// time, and fills Redis from the underlying store on a miss.
func (s *Store) GetCachedResult(
	ctx context.Context,
	worker string,
	requestKey string,
	maxAge time.Duration,
) (*crawler.Result, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	key := s.Key(worker, requestKey)
	now := s.clock.Now()

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var e entry
		if jsonErr := json.Unmarshal(raw, &e); jsonErr != nil {
			s.logger.Warn("discard corrupt cache entry", zap.String("key", key), zap.Error(jsonErr))
			break
		}
		if now.Sub(e.JobCreatedAt) < maxAge {
			metrics.ObserveCacheTier("redis", worker, true)
			return &e.Result, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
	}

	metrics.ObserveCacheTier("redis", worker, false)
	res, err := s.Store.GetCachedResult(ctx, worker, requestKey, maxAge)
	if err != nil || res == nil {
		return res, err
	}
	s.fill(ctx, key, *res, now, maxAge)
	return res, nil
}

func (s *Store) fill(ctx context.Context, key string, res crawler.Result, now time.Time, maxAge time.Duration) {
	job, err := s.Store.GetJob(ctx, res.JobID)
	if err != nil {
		s.logger.Warn("load job for cache fill", zap.String("job_id", res.JobID), zap.Error(err))
		return
	}
	ttl := maxAge - now.Sub(job.CreatedAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(entry{Result: res, JobCreatedAt: job.CreatedAt})
	if err != nil {
		s.logger.Warn("marshal cache entry", zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// SaveResult delegates, then drops the cached entry for the job's (worker, request key)
// when the new row is successful, since it may now be the freshest answer.
func (s *Store) SaveResult(ctx context.Context, in crawler.ResultInput) (string, error) {
	id, err := s.Store.SaveResult(ctx, in)
	if err != nil || !in.Success {
		return id, err
	}
	job, err := s.Store.GetJob(ctx, in.JobID)
	if err != nil {
		s.logger.Warn("load job for invalidation", zap.String("job_id", in.JobID), zap.Error(err))
		return id, nil
	}
	key := s.Key(job.Worker, job.RequestKey)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("redis del failed", zap.String("key", key), zap.Error(err))
	}
	return id, nil
}
