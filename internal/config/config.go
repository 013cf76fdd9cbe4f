// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLER_WORKER_POLL_INTERVAL=1s.
const EnvPrefix = "CRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Bluesky   BlueskyConfig   `mapstructure:"bluesky"`
	YouTube   YouTubeConfig   `mapstructure:"youtube"`
	Export    ExportConfig    `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig describes the trace resource and export target.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// WorkerConfig governs the poll loop.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	// Filter restricts the loop to one worker tag; empty takes any.
	Filter string `mapstructure:"filter"`
}

// CacheConfig holds the freshness window per worker tag. Tags absent from
// MaxAge are never served from cache.
type CacheConfig struct {
	MaxAge map[string]time.Duration `mapstructure:"max_age"`
}

// StoreConfig selects and tunes the job and result store.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig enables the Redis freshness tier when URL is set.
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// FetchConfig configures the plain HTTP fetcher.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	// RateLimitRPS throttles requests per host; 0 disables throttling.
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	ExecPath           string        `mapstructure:"exec_path"`
}

// BlueskyConfig configures the social feed handler.
type BlueskyConfig struct {
	APIBase string `mapstructure:"api_base"`
	Limit   int    `mapstructure:"limit"`
	Filter  string `mapstructure:"filter"`
}

// YouTubeConfig configures the transcript handler.
type YouTubeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Lang    string `mapstructure:"lang"`
}

// ExportConfig selects where saved results are mirrored.
type ExportConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds the lifecycle event topic. Publishing is off when TopicName is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "crawl-worker")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.error_backoff", "5s")
	v.SetDefault("worker.filter", "")
	v.SetDefault("cache.max_age", map[string]any{
		"youtube":  "12h",
		"page":     "1h",
		"crawl4ai": "1h",
	})
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.migrate", true)
	v.SetDefault("redis.prefix", "crawl-worker")
	v.SetDefault("fetch.user_agent", "crawl-worker/0.1")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("fetch.rate_limit_rps", 2.0)
	v.SetDefault("fetch.rate_limit_burst", 4)
	v.SetDefault("fetch.blocked_domains", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("bluesky.api_base", "https://public.api.bsky.app")
	v.SetDefault("bluesky.limit", 25)
	v.SetDefault("bluesky.filter", "posts_and_author_threads")
	v.SetDefault("youtube.base_url", "https://www.youtube.com")
	v.SetDefault("youtube.lang", "en")
	v.SetDefault("export.backend", "none")
	v.SetDefault("export.prefix", "results")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait", "250ms")
	v.SetDefault("events.log_enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0")
	}
	if c.Worker.ErrorBackoff <= 0 {
		return fmt.Errorf("worker.error_backoff must be > 0")
	}
	for worker, age := range c.Cache.MaxAge {
		if age < 0 {
			return fmt.Errorf("cache.max_age.%s must be >= 0", worker)
		}
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", c.Store.Backend)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.RateLimitRPS < 0 || c.Fetch.RateLimitBurst < 0 {
		return fmt.Errorf("fetch.rate_limit_rps and fetch.rate_limit_burst must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Bluesky.Limit < 1 || c.Bluesky.Limit > 100 {
		return fmt.Errorf("bluesky.limit must be within [1, 100]")
	}
	switch c.Export.Backend {
	case "none", "memory":
	case "local":
		if c.Export.LocalDir == "" {
			return fmt.Errorf("export.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend must be none, memory, local or gcs, got %q", c.Export.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatchEvents < 0 {
		return fmt.Errorf("events buffer sizes must be >= 0")
	}
	return nil
}
