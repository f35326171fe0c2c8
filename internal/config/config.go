// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Router       RouterConfig       `mapstructure:"router"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Fetcher      FetcherConfig      `mapstructure:"fetcher"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig tunes one archive index client.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Index          string `mapstructure:"index"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	PageSize       int    `mapstructure:"page_size"`
	MaxPages       int    `mapstructure:"max_pages"`
}

// Timeout returns the configured timeout as a duration.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SourcesConfig groups the archive index clients.
type SourcesConfig struct {
	UserAgent   string       `mapstructure:"user_agent"`
	Wayback     SourceConfig `mapstructure:"wayback"`
	CommonCrawl SourceConfig `mapstructure:"commoncrawl"`
}

// RouterConfig governs hybrid fallback behavior.
type RouterConfig struct {
	FallbackRetries   int     `mapstructure:"fallback_retries"`
	FallbackDelayMs   int     `mapstructure:"fallback_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	MaxDelayMs        int     `mapstructure:"max_delay_ms"`
	MetricsRingSize   int     `mapstructure:"metrics_ring_size"`
}

// BreakerConfig tunes the per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int     `mapstructure:"failure_threshold"`
	SuccessThreshold   int     `mapstructure:"success_threshold"`
	OpenTimeoutSeconds int     `mapstructure:"open_timeout_seconds"`
	ExponentialBackoff bool    `mapstructure:"exponential_backoff"`
	BackoffFactor      float64 `mapstructure:"backoff_factor"`
	MaxTimeoutSeconds  int     `mapstructure:"max_timeout_seconds"`
}

// RateLimitConfig throttles index API queries per host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// FetcherConfig configures the replay snapshot fetcher.
type FetcherConfig struct {
	ReplayBaseURL  string `mapstructure:"replay_base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RandomDelayMs  int    `mapstructure:"random_delay_ms"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ExtractionConfig governs the strategy chain.
type ExtractionConfig struct {
	StrategyTimeoutSeconds int     `mapstructure:"strategy_timeout_seconds"`
	AcceptThreshold        float64 `mapstructure:"accept_threshold"`
	CacheTTLMinutes        int     `mapstructure:"cache_ttl_minutes"`
}

// OrchestratorConfig governs job execution and the dispatcher pool.
type OrchestratorConfig struct {
	Workers            int `mapstructure:"workers"`
	QueueDepth         int `mapstructure:"queue_depth"`
	PersistRetries     int `mapstructure:"persist_retries"`
	PersistRetryMs     int `mapstructure:"persist_retry_ms"`
	DegradeThreshold   int `mapstructure:"degrade_threshold"`
	FailThreshold      int `mapstructure:"fail_threshold"`
	IndexTimeoutSec    int `mapstructure:"index_timeout_seconds"`
	JobTimeoutMinutes  int `mapstructure:"job_timeout_minutes"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_seconds"`
}

// StorageConfig selects the raw snapshot blob backend.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig names the topics used for progress and index publishing.
type PubSubConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	ProgressTopic string `mapstructure:"progress_topic"`
	IndexTopic    string `mapstructure:"index_topic"`
}

// ProgressConfig governs the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	StoreEnabled  bool                `mapstructure:"store_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
}

// ProgressBatchConfig bounds hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
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
	v.SetDefault("server.port", 8080)

	v.SetDefault("sources.user_agent", "snapradar-archive-crawler/1.0")
	v.SetDefault("sources.wayback.timeout_seconds", 120)
	v.SetDefault("sources.wayback.max_retries", 3)
	v.SetDefault("sources.wayback.page_size", 5000)
	v.SetDefault("sources.commoncrawl.index", "CC-MAIN-latest")
	v.SetDefault("sources.commoncrawl.timeout_seconds", 180)
	v.SetDefault("sources.commoncrawl.max_retries", 3)
	v.SetDefault("sources.commoncrawl.page_size", 2000)

	v.SetDefault("router.fallback_retries", 3)
	v.SetDefault("router.fallback_delay_ms", 2000)
	v.SetDefault("router.backoff_multiplier", 1.0)
	v.SetDefault("router.max_delay_ms", 30000)
	v.SetDefault("router.metrics_ring_size", 1000)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 3)
	v.SetDefault("breaker.open_timeout_seconds", 60)
	v.SetDefault("breaker.exponential_backoff", true)
	v.SetDefault("breaker.backoff_factor", 2.0)
	v.SetDefault("breaker.max_timeout_seconds", 600)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 4)

	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.random_delay_ms", 500)
	v.SetDefault("fetcher.max_body_bytes", 10*1024*1024)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)

	v.SetDefault("extraction.strategy_timeout_seconds", 45)
	v.SetDefault("extraction.accept_threshold", 0.5)
	v.SetDefault("extraction.cache_ttl_minutes", 60)

	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.queue_depth", 64)
	v.SetDefault("orchestrator.persist_retries", 3)
	v.SetDefault("orchestrator.persist_retry_ms", 500)
	v.SetDefault("orchestrator.degrade_threshold", 3)
	v.SetDefault("orchestrator.fail_threshold", 6)
	v.SetDefault("orchestrator.index_timeout_seconds", 10)
	v.SetDefault("orchestrator.job_timeout_minutes", 120)
	v.SetDefault("orchestrator.shutdown_timeout_seconds", 10)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.store_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be > 0")
	}
	if c.Orchestrator.QueueDepth <= 0 {
		return fmt.Errorf("orchestrator.queue_depth must be > 0")
	}
	if c.Extraction.AcceptThreshold < 0 || c.Extraction.AcceptThreshold > 1 {
		return fmt.Errorf("extraction.accept_threshold must lie in [0,1]")
	}
	if c.Breaker.ExponentialBackoff && c.Breaker.BackoffFactor < 1 {
		return fmt.Errorf("breaker.backoff_factor must be >= 1")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// JobTimeout returns the maximum wall time for one job run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Orchestrator.JobTimeoutMinutes) * time.Minute
}
