package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	SN      SNConfig      `yaml:"sn"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// WriteRateLimit caps mutating requests per minute per client IP.
	WriteRateLimit int `yaml:"write_rate_limit"`
	// ShutdownTimeoutSeconds bounds the graceful shutdown drain.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout returns the drain bound as a duration.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig holds the production database settings.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// SQLiteConfig holds the single-node database settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the serial number counter settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SNConfig configures serial number allocation.
type SNConfig struct {
	// Timezone names the location whose calendar days scope the daily
	// counter, e.g. "Asia/Shanghai". Empty means the local timezone.
	Timezone string `yaml:"timezone"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:                   ":8080",
			WriteRateLimit:         60,
			ShutdownTimeoutSeconds: 10,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "loonflow.db"},
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Log:     LogConfig{Level: "info"},
	}
}

// LoadFromFile loads the configuration from a YAML file, filling omitted
// settings with defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url is required for the postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.SN.Timezone != "" {
		if _, err := time.LoadLocation(c.SN.Timezone); err != nil {
			return fmt.Errorf("invalid sn.timezone %q: %w", c.SN.Timezone, err)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// SNLocation returns the configured timezone, or local time when unset.
func (c *Config) SNLocation() (*time.Location, error) {
	if c.SN.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.SN.Timezone)
}
