// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	PriceAlert PriceAlertConfig `mapstructure:"pricealert"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Vendors    []crawler.Vendor `mapstructure:"vendors"`
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

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs fetch politeness and run bounds.
type CrawlerConfig struct {
	UserAgent             string  `mapstructure:"user_agent"`
	AcceptLanguage        string  `mapstructure:"accept_language"`
	Concurrency           int     `mapstructure:"concurrency"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	MinDelayMs            int     `mapstructure:"min_delay_ms"`
	MaxDelayMs            int     `mapstructure:"max_delay_ms"`
	MaxBackoffMs          int     `mapstructure:"max_backoff_ms"`
	FetchAttempts         int     `mapstructure:"fetch_attempts"`
	MaxPagesCap           int     `mapstructure:"max_pages_cap"`
	DefaultMaxPages       int     `mapstructure:"default_max_pages"`
	TestPages             int     `mapstructure:"test_pages"`
	HostRPS               float64 `mapstructure:"host_rps"`
}

// QueueConfig selects and tunes the work queue.
type QueueConfig struct {
	Backend        string `mapstructure:"backend"`
	Attempts       int    `mapstructure:"attempts"`
	BackoffMs      int    `mapstructure:"backoff_ms"`
	BackoffKind    string `mapstructure:"backoff_kind"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	AlertPriority  int    `mapstructure:"alert_priority"`

	// StalledAfterSeconds bounds how long a postgres entry may stay active
	// before it is reclaimed from a lost worker.
	StalledAfterSeconds int `mapstructure:"stalled_after_seconds"`
	// RetentionSeconds keeps finished memory-queue entries readable.
	RetentionSeconds    int `mapstructure:"retention_seconds"`
}

// SchedulerConfig controls recurring crawls.
type SchedulerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	TickSeconds int  `mapstructure:"tick_seconds"`
}

// ReconcilerConfig controls job/queue drift repair.
type ReconcilerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	MinAgeSeconds   int  `mapstructure:"min_age_seconds"`
}

// PriceAlertConfig tunes price drop detection.
type PriceAlertConfig struct {
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
	Currency         string  `mapstructure:"currency"`
}

// NotifyConfig names the outbound notification topic.
type NotifyConfig struct {
	Topic string `mapstructure:"topic"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// PubSubConfig holds Google Pub/Sub settings. An empty project publishes to
// memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// StorageConfig selects where listing snapshots go.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	Bucket   string `mapstructure:"bucket"`
	LocalDir string `mapstructure:"local_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	BufferSize int         `mapstructure:"buffer_size"`
	Batch      BatchConfig `mapstructure:"batch"`
}

// BatchConfig bounds progress batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Backends accepted by Validate.
const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"

	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Load builds a Config from an optional .env file, an optional config file
// and CRAWLER_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("crawler.user_agent", "SeedbankCrawler/1.0 (+https://github.com/JakeFAU/seedbank-crawler)")
	v.SetDefault("crawler.accept_language", "en-US,en;q=0.9")
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.request_timeout_seconds", 30)
	v.SetDefault("crawler.min_delay_ms", 1000)
	v.SetDefault("crawler.max_delay_ms", 2500)
	v.SetDefault("crawler.max_backoff_ms", 60000)
	v.SetDefault("crawler.fetch_attempts", 3)
	v.SetDefault("crawler.max_pages_cap", 50)
	v.SetDefault("crawler.default_max_pages", 5)
	v.SetDefault("crawler.test_pages", 1)
	v.SetDefault("crawler.host_rps", 1.0)

	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_ms", 5000)
	v.SetDefault("queue.backoff_kind", string(crawler.BackoffExponential))
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.alert_priority", 10)
	v.SetDefault("queue.stalled_after_seconds", 1800)
	v.SetDefault("queue.retention_seconds", 3600)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval_seconds", 300)
	v.SetDefault("reconciler.min_age_seconds", 120)

	v.SetDefault("pricealert.threshold_percent", -5.0)
	v.SetDefault("pricealert.currency", "CAD")
	v.SetDefault("notify.topic", "price-alert-emails")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("pubsub.project_id", "")

	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_dir", "./snapshots")
	v.SetDefault("storage.prefix", "snapshots")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.MinDelayMs < 0 || c.Crawler.MaxDelayMs < c.Crawler.MinDelayMs {
		return fmt.Errorf("crawler.max_delay_ms must be >= crawler.min_delay_ms >= 0")
	}
	if c.Crawler.FetchAttempts <= 0 {
		return fmt.Errorf("crawler.fetch_attempts must be > 0")
	}
	if c.Crawler.MaxPagesCap <= 0 {
		return fmt.Errorf("crawler.max_pages_cap must be > 0")
	}

	switch c.Queue.Backend {
	case QueueMemory:
	case QueuePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres queue")
		}
	default:
		return fmt.Errorf("queue.backend must be %q or %q", QueueMemory, QueuePostgres)
	}
	if c.Queue.Attempts <= 0 {
		return fmt.Errorf("queue.attempts must be > 0")
	}
	switch crawler.BackoffKind(c.Queue.BackoffKind) {
	case crawler.BackoffFixed, crawler.BackoffExponential:
	default:
		return fmt.Errorf("queue.backoff_kind must be fixed or exponential")
	}
	if c.Queue.StalledAfterSeconds <= 0 {
		return fmt.Errorf("queue.stalled_after_seconds must be > 0")
	}

	if c.PriceAlert.ThresholdPercent >= 0 {
		return fmt.Errorf("pricealert.threshold_percent must be negative")
	}
	if c.Notify.Topic == "" {
		return fmt.Errorf("notify.topic is required")
	}

	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for local snapshots")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for gcs snapshots")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	seen := make(map[string]struct{}, len(c.Vendors))
	for i, v := range c.Vendors {
		if v.ID == "" || v.BaseURL == "" || v.Adapter == "" {
			return fmt.Errorf("vendors[%d]: id, base_url and adapter are required", i)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("vendors[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = struct{}{}
		if h := v.AutoCrawlIntervalHours; h != nil && *h <= 0 {
			return fmt.Errorf("vendors[%d]: auto_crawl_interval_hours must be > 0", i)
		}
	}
	return nil
}

// RequestTimeout is the per-request fetch budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second
}

// Backoff is the queue retry curve.
func (c Config) Backoff() crawler.Backoff {
	return crawler.Backoff{
		Kind:  crawler.BackoffKind(c.Queue.BackoffKind),
		Delay: time.Duration(c.Queue.BackoffMs) * time.Millisecond,
	}
}

// EnqueueDefaults are the queue options applied to every crawl task.
func (c Config) EnqueueDefaults() crawler.EnqueueOptions {
	return crawler.EnqueueOptions{Attempts: c.Queue.Attempts, Backoff: c.Backoff()}
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second setting to a duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
