// Package config provides configuration management for icefetch clients.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete client configuration loaded from environment
// variables.
type Config struct {
	Catalog  CatalogConfig  `envPrefix:"CATALOG_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Order    OrderConfig    `envPrefix:"ORDER_"`
	Download DownloadConfig `envPrefix:"DOWNLOAD_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// CatalogConfig contains catalog (CMR) client configuration.
type CatalogConfig struct {
	BaseURL    string        `env:"BASE_URL" envDefault:"https://cmr.earthdata.nasa.gov/search"`
	Provider   string        `env:"PROVIDER" envDefault:"NSIDC_ECS"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"30s"`
	PageSize   int           `env:"PAGE_SIZE" envDefault:"2000"`
	MaxPages   int           `env:"MAX_PAGES" envDefault:"50"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"3"`
}

// AuthConfig contains Earthdata login configuration.
type AuthConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://urs.earthdata.nasa.gov"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// OrderConfig contains order/subsetting service configuration.
type OrderConfig struct {
	BaseURL      string        `env:"BASE_URL" envDefault:"https://n5eil02u.ecs.nsidc.org/egi/request"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"60s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT" envDefault:"30m"`
	MaxWorkers   int           `env:"MAX_WORKERS" envDefault:"4"`
}

// DownloadConfig contains bulk download configuration.
type DownloadConfig struct {
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10m"`
	MaxWorkers int           `env:"MAX_WORKERS" envDefault:"4"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"3"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		Prefix: "ICEFETCH_",
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog timeout must be positive, got %s", c.Catalog.Timeout)
	}
	if c.Catalog.PageSize < 1 || c.Catalog.PageSize > 2000 {
		return fmt.Errorf("catalog page size must be between 1 and 2000, got %d", c.Catalog.PageSize)
	}
	if c.Catalog.MaxPages < 1 {
		return fmt.Errorf("catalog max pages must be at least 1, got %d", c.Catalog.MaxPages)
	}
	if c.Catalog.MaxRetries < 0 {
		return fmt.Errorf("catalog max retries must not be negative, got %d", c.Catalog.MaxRetries)
	}

	if c.Auth.BaseURL == "" {
		return fmt.Errorf("auth base URL is required")
	}
	if c.Auth.Timeout <= 0 {
		return fmt.Errorf("auth timeout must be positive, got %s", c.Auth.Timeout)
	}

	if c.Order.BaseURL == "" {
		return fmt.Errorf("order base URL is required")
	}
	if c.Order.Timeout <= 0 {
		return fmt.Errorf("order timeout must be positive, got %s", c.Order.Timeout)
	}
	if c.Order.PollInterval <= 0 {
		return fmt.Errorf("order poll interval must be positive, got %s", c.Order.PollInterval)
	}
	if c.Order.PollTimeout < c.Order.PollInterval {
		return fmt.Errorf("order poll timeout (%s) must be >= poll interval (%s)", c.Order.PollTimeout, c.Order.PollInterval)
	}
	if c.Order.MaxWorkers < 1 {
		return fmt.Errorf("order max workers must be at least 1, got %d", c.Order.MaxWorkers)
	}

	if c.Download.Timeout <= 0 {
		return fmt.Errorf("download timeout must be positive, got %s", c.Download.Timeout)
	}
	if c.Download.MaxWorkers < 1 {
		return fmt.Errorf("download max workers must be at least 1, got %d", c.Download.MaxWorkers)
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download max retries must not be negative, got %d", c.Download.MaxRetries)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}
