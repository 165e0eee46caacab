// Package daemon manages the Credo daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/credo-app/credo/internal/app/settlement"
)

// Config holds all daemon configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Store      StoreConfig      `toml:"store"`
	Settlement SettlementConfig `toml:"settlement"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Events     EventsConfig     `toml:"events"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig controls the SQLite store.
type StoreConfig struct {
	Dir string `toml:"dir"`
}

// SettlementConfig controls the weekly settlement tick.
type SettlementConfig struct {
	Enabled         bool   `toml:"enabled"`
	Timezone        string `toml:"timezone"`          // IANA name; week boundaries are Monday 00:00 here
	Concurrency     int    `toml:"concurrency"`       // accounts settled in parallel
	CatchUp         bool   `toml:"catch_up"`          // settle the previous week once at startup
	RetryInitial    string `toml:"retry_initial"`     // first backoff interval
	RetryMaxElapsed string `toml:"retry_max_elapsed"` // give up after this long
}

// CatalogConfig points at an alternative badge catalog.
type CatalogConfig struct {
	Path string `toml:"path"` // empty = embedded catalog
}

// EventsConfig controls change-notification delivery. The SQLite outbox is
// always on; Redis is added when an address is set.
type EventsConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
	File   string `toml:"file"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := credoHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Store: StoreConfig{
			Dir: homeDir,
		},
		Settlement: SettlementConfig{
			Enabled:         true,
			Timezone:        "UTC",
			Concurrency:     4,
			CatchUp:         true,
			RetryInitial:    "1s",
			RetryMaxElapsed: "10m",
		},
		Events: EventsConfig{
			RedisChannel: "credo.events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $CREDO_HOME/config.toml, falling back to
// defaults, then applies CREDO_* environment overrides.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(filepath.Join(credoHome(), "config.toml"))
}

// LoadConfigFrom reads config from path. A missing file yields defaults.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes the config to $CREDO_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(credoHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate checks values that would otherwise fail at first use.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Settlement.Concurrency <= 0 {
		return fmt.Errorf("settlement.concurrency must be positive, got %d", c.Settlement.Concurrency)
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	return nil
}

// Location resolves the settlement timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Settlement.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Settlement.Timezone)
	if err != nil {
		return nil, fmt.Errorf("settlement.timezone: %w", err)
	}
	return loc, nil
}

// RetryPolicy converts the settlement retry settings.
func (c Config) RetryPolicy() (settlement.RetryPolicy, error) {
	p := settlement.DefaultRetryPolicy()
	if s := c.Settlement.RetryInitial; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return p, fmt.Errorf("settlement.retry_initial: %w", err)
		}
		p.InitialInterval = d
	}
	if s := c.Settlement.RetryMaxElapsed; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return p, fmt.Errorf("settlement.retry_max_elapsed: %w", err)
		}
		p.MaxElapsed = d
	}
	return p, nil
}

// applyEnv overrides config values from CREDO_* variables, which the CLI may
// have loaded from a .env file.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("CREDO_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CREDO_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CREDO_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("CREDO_TIMEZONE"); v != "" {
		cfg.Settlement.Timezone = v
	}
	if v := os.Getenv("CREDO_REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if v := os.Getenv("CREDO_REDIS_PASSWORD"); v != "" {
		cfg.Events.RedisPassword = v
	}
	if v := os.Getenv("CREDO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// credoHome returns the Credo data directory.
func credoHome() string {
	if env := os.Getenv("CREDO_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".credo")
}

// CredoHome is exported for use by other packages.
func CredoHome() string {
	return credoHome()
}
