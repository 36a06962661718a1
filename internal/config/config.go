// Package config loads runtime configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Hospital HospitalConfig `koanf:"hospital"`
	Insurer  InsurerConfig  `koanf:"insurer"`
	Poller   PollerConfig   `koanf:"poller"`
	Billing  BillingConfig  `koanf:"billing"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type HospitalConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"` // Duration string like "60s"
}

type InsurerConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type PollerConfig struct {
	Interval string `koanf:"interval"` // Duration string like "5s"
}

type BillingConfig struct {
	TaxRate float64 `koanf:"tax_rate"`
}

// Load reads config.yaml from the working directory, if present, then
// applies CLAIMSYNC_* environment overrides (double underscore separates
// nesting, e.g. CLAIMSYNC_SERVER__PORT).
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit file path.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("CLAIMSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CLAIMSYNC_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "sqlite")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "claimsync.db")
	}
	if !k.Exists("hospital.base_url") {
		k.Set("hospital.base_url", "http://localhost:8000")
	}
	if !k.Exists("insurer.base_url") {
		k.Set("insurer.base_url", "http://localhost:8001")
	}
	if !k.Exists("poller.interval") {
		k.Set("poller.interval", "5s")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PollInterval parses the configured poller interval.
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Poller.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid poller interval %q: %w", c.Poller.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poller interval must be positive, got %q", c.Poller.Interval)
	}
	return d, nil
}

// HospitalTimeout parses the hospital client timeout, defaulting to 60s.
func (c *Config) HospitalTimeout() (time.Duration, error) {
	return parseTimeout(c.Hospital.Timeout, 60*time.Second)
}

// InsurerTimeout parses the insurer client timeout, defaulting to 30s.
func (c *Config) InsurerTimeout() (time.Duration, error) {
	return parseTimeout(c.Insurer.Timeout, 30*time.Second)
}

func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	return d, nil
}
