// Package config loads the aggregator's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Stream     StreamConfig     `yaml:"stream"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Destination string `yaml:"destination"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	Migrate       bool   `yaml:"migrate"`
}

type AggregatorConfig struct {
	PollInterval      time.Duration  `yaml:"poll_interval"`
	ReapInterval      time.Duration  `yaml:"reap_interval"`
	RetentionOffset   *time.Duration `yaml:"retention_offset"` // nil: 12h; 0s is honored
	CallTimeout       time.Duration  `yaml:"call_timeout"`
	LoadConcurrency   int            `yaml:"load_concurrency"`
	LookupConcurrency int            `yaml:"lookup_concurrency"`
	RateCacheSize     int            `yaml:"rate_cache_size"`
}

// Retention returns the configured retention offset, or the 12h default
// when the key was absent.
func (a AggregatorConfig) Retention() time.Duration {
	if a.RetentionOffset == nil {
		return 12 * time.Hour
	}
	return *a.RetentionOffset
}

type StreamConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize fills defaults and resolves os.environ/ references.
func (c *Config) Normalize() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Destination == "" {
		c.Log.Destination = "stdout"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	c.Store.PostgresDSN = resolveEnvString(c.Store.PostgresDSN)
	c.Store.ClickhouseDSN = resolveEnvString(c.Store.ClickhouseDSN)

	a := &c.Aggregator
	if a.PollInterval == 0 {
		a.PollInterval = 200 * time.Millisecond
	}
	if a.ReapInterval == 0 {
		a.ReapInterval = time.Hour
	}
	if a.RetentionOffset == nil {
		offset := a.Retention()
		a.RetentionOffset = &offset
	}
	if a.CallTimeout == 0 {
		a.CallTimeout = 30 * time.Second
	}
	if a.LoadConcurrency == 0 {
		a.LoadConcurrency = 16
	}
	if a.LookupConcurrency == 0 {
		a.LookupConcurrency = 16
	}
	if a.RateCacheSize == 0 {
		a.RateCacheSize = 4096
	}

	c.Stream.Endpoint = resolveEnvString(c.Stream.Endpoint)
	if c.Stream.Endpoint == "" {
		c.Stream.Endpoint = "wss://xrplcluster.com"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for backend %s", c.Store.Backend)
		}
	case BackendClickhouse:
		if c.Store.ClickhouseDSN == "" {
			return fmt.Errorf("store.clickhouse_dsn is required for backend %s", c.Store.Backend)
		}
	default:
		return fmt.Errorf("invalid store.backend: %s", c.Store.Backend)
	}

	a := c.Aggregator
	if a.PollInterval < 0 {
		return fmt.Errorf("invalid aggregator.poll_interval: %v", a.PollInterval)
	}
	if a.ReapInterval < 0 {
		return fmt.Errorf("invalid aggregator.reap_interval: %v", a.ReapInterval)
	}
	if a.RetentionOffset != nil && *a.RetentionOffset < 0 {
		return fmt.Errorf("invalid aggregator.retention_offset: %v", *a.RetentionOffset)
	}
	if a.CallTimeout < 0 {
		return fmt.Errorf("invalid aggregator.call_timeout: %v", a.CallTimeout)
	}
	if a.LoadConcurrency < 0 || a.LookupConcurrency < 0 {
		return fmt.Errorf("invalid aggregator concurrency: load=%d lookup=%d", a.LoadConcurrency, a.LookupConcurrency)
	}
	if a.RateCacheSize < 0 {
		return fmt.Errorf("invalid aggregator.rate_cache_size: %d", a.RateCacheSize)
	}

	if c.Stream.Enabled {
		u, err := url.Parse(c.Stream.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid stream.endpoint: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("stream.endpoint must use ws or wss scheme, got: %s", u.Scheme)
		}
	}

	return nil
}

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// LogValue redacts DSNs so the config can be logged as one attribute.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("log_level", c.Log.Level),
		slog.String("backend", c.Store.Backend),
		slog.Bool("migrate", c.Store.Migrate),
		slog.Duration("poll_interval", c.Aggregator.PollInterval),
		slog.Duration("reap_interval", c.Aggregator.ReapInterval),
		slog.Duration("retention_offset", c.Aggregator.Retention()),
		slog.Duration("call_timeout", c.Aggregator.CallTimeout),
		slog.Bool("stream_enabled", c.Stream.Enabled),
		slog.String("stream_endpoint", c.Stream.Endpoint),
		slog.String("metrics_addr", c.Metrics.Addr),
	)
}
