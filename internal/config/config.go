// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/engine"
	collyfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/headless"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Content hash algorithms.
const (
	HashSHA256 = "sha256"
	HashXXHash = "xxhash"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Crawl    crawler.Options `mapstructure:"crawl"`
	Engine   engine.Config   `mapstructure:"engine"`
	Fetcher  FetcherConfig   `mapstructure:"fetcher"`
	Headless HeadlessConfig  `mapstructure:"headless"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Progress ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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

// FetcherConfig configures the static fetcher and page hashing.
type FetcherConfig struct {
	collyfetcher.Config `mapstructure:",squash"`
	HashAlgorithm       string `mapstructure:"hash_algorithm"`
}

// HeadlessConfig configures the JavaScript rendering fetcher.
type HeadlessConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	headlessfetcher.Config `mapstructure:",squash"`
}

// StorageConfig selects and tunes the session store.
type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxBatch     int           `mapstructure:"max_batch"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout"`
	LogSink      bool          `mapstructure:"log_sink"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
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
	cfg.Crawl = normalizeOptions(cfg.Crawl)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	opts := crawler.DefaultOptions()
	eng := engine.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawl.max_depth", opts.MaxDepth)
	v.SetDefault("crawl.max_pages", opts.MaxPages)
	v.SetDefault("crawl.request_delay_seconds", opts.RequestDelay)
	v.SetDefault("crawl.concurrent_workers", opts.ConcurrentWorkers)
	v.SetDefault("crawl.render_javascript", false)
	v.SetDefault("crawl.attachment_extensions", opts.AttachmentExtensions)
	v.SetDefault("engine.metrics_interval", eng.MetricsInterval)
	v.SetDefault("engine.idle_wait", eng.IdleWait)
	v.SetDefault("engine.drain_timeout", eng.DrainTimeout)
	v.SetDefault("engine.cancel_inflight_on_stop", false)
	v.SetDefault("engine.expected_urls", 100_000)
	v.SetDefault("fetcher.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.max_body_size", 10<<20)
	v.SetDefault("fetcher.hash_algorithm", HashSHA256)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.max_parallel", headlessfetcher.DefaultMaxParallel)
	v.SetDefault("headless.idle_timeout", headlessfetcher.DefaultIdleTimeout)
	v.SetDefault("headless.settle_delay", headlessfetcher.DefaultSettleDelay)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.sqlite_path", "data/sitecrawler.db")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("storage.timeout", 5*time.Second)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch", 500)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.log_sink", true)
}

// normalizeOptions applies the same extension cleanup as API requests.
func normalizeOptions(opts crawler.Options) crawler.Options {
	exts := make([]string, 0, len(opts.AttachmentExtensions))
	for _, ext := range opts.AttachmentExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	opts.AttachmentExtensions = exts
	return opts
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if err := c.Crawl.Validate(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if c.Fetcher.Timeout <= 0 {
		return errors.New("fetcher.timeout must be > 0")
	}
	switch c.Fetcher.HashAlgorithm {
	case HashSHA256, HashXXHash:
	default:
		return fmt.Errorf("fetcher.hash_algorithm %q must be %s or %s", c.Fetcher.HashAlgorithm, HashSHA256, HashXXHash)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn must be set for the postgres backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}
