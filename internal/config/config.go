// Package config loads and validates fetcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/headless-fetch/internal/auth"
	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/logging"
	"github.com/JakeFAU/headless-fetch/internal/telemetry"
)

// EnvPrefix is prepended to every environment override, e.g.
// FETCHER_CRAWLER_TIMEOUT.
const EnvPrefix = "FETCHER"

// Queue drivers.
const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"
)

// Storage drivers.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig       `mapstructure:"crawler"`
	Proxy     browser.ProxyConfig `mapstructure:"proxy"`
	Auth      []auth.Entry        `mapstructure:"auth"`
	Server    ServerConfig        `mapstructure:"server"`
	Queue     QueueConfig         `mapstructure:"queue"`
	Storage   StorageConfig       `mapstructure:"storage"`
	PubSub    PubSubConfig        `mapstructure:"pubsub"`
	Events    EventsConfig        `mapstructure:"events"`
	Telemetry telemetry.Config    `mapstructure:"telemetry"`
	Logging   logging.Config      `mapstructure:"logging"`
}

// CrawlerConfig governs navigation and dispatch.
type CrawlerConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	IgnoreInvalidSSL bool          `mapstructure:"ignore_invalid_ssl"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	IdleTime         time.Duration `mapstructure:"idle_time"`
	UserAgent        string        `mapstructure:"user_agent"`
	RatePerHost      float64       `mapstructure:"rate_per_host"`
	Burst            int           `mapstructure:"burst"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects where fetched documents are persisted.
type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig enables outcome notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether outcomes should be published.
func (p PubSubConfig) Enabled() bool {
	return p.Topic != ""
}

// EventsConfig tunes the asynchronous event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("crawler.timeout", 30*time.Second)
	v.SetDefault("crawler.ignore_invalid_ssl", false)
	v.SetDefault("crawler.max_concurrency", 4)
	v.SetDefault("crawler.idle_time", 500*time.Millisecond)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.rate_per_host", 1.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.poll_interval", 500*time.Millisecond)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.host", "")
	v.SetDefault("proxy.port", 0)
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("queue.driver", QueueMemory)
	v.SetDefault("queue.dsn", "")
	v.SetDefault("queue.table", "fetch_queue")
	v.SetDefault("queue.max_conns", 0)
	v.SetDefault("storage.driver", StorageNone)
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 64)
	v.SetDefault("events.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("events.sink_timeout", 10*time.Second)
	v.SetDefault("telemetry.service_name", telemetry.DefaultServiceName)
	v.SetDefault("telemetry.version", "")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.stdout_traces", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.Timeout <= 0 {
		errs = append(errs, errors.New("crawler.timeout must be > 0"))
	}
	if c.Crawler.IdleTime < 0 {
		errs = append(errs, errors.New("crawler.idle_time must be >= 0"))
	}
	if c.Crawler.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("crawler.max_concurrency must be > 0"))
	}
	if c.Crawler.RatePerHost < 0 {
		errs = append(errs, errors.New("crawler.rate_per_host must be >= 0"))
	}
	if c.Proxy.Enabled && (c.Proxy.Host == "" || c.Proxy.Port <= 0) {
		errs = append(errs, errors.New("proxy.host and proxy.port must be set when proxy is enabled"))
	}
	if err := auth.NewStore().Load(c.Auth); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	switch c.Queue.Driver {
	case QueueMemory:
	case QueuePostgres:
		if c.Queue.DSN == "" {
			errs = append(errs, errors.New("queue.dsn must be set for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.driver %q is not one of memory, postgres", c.Queue.Driver))
	}
	switch c.Storage.Driver {
	case StorageNone:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			errs = append(errs, errors.New("storage.base_dir must be set for the local driver"))
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket must be set for the gcs driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of none, local, gcs", c.Storage.Driver))
	}
	if c.PubSub.Enabled() && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic is set"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}
