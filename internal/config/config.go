// Package config loads ~/.roomvia/config.toml, .env files and environment
// overrides into one Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the global ~/.roomvia/config.toml.
type Config struct {
	DefaultInstance string   `toml:"default_instance"`
	Identity        Identity `toml:"identity"`
	Store           Store    `toml:"store"`
	Redis           Redis    `toml:"redis"`
	Jobs            Jobs     `toml:"jobs"`
	HTTP            HTTP     `toml:"http"`
	Timeouts        Timeouts `toml:"timeouts"`
	Profiles        Profiles `toml:"profiles"`
	Log             Log      `toml:"log"`
}

// Identity is the client-side user.
type Identity struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// Store selects the durable backend. An empty DSN with the sqlite driver
// means the instance's roomvia.db.
type Store struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Redis enables the cross-instance relay and the shared profile cache.
type Redis struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}

// Jobs enables deferred read receipts. Requires Redis.URL.
type Jobs struct {
	Enabled     bool `toml:"enabled"`
	Concurrency int  `toml:"concurrency"`
}

// HTTP configures the server-side API. An empty Addr disables it.
type HTTP struct {
	Addr        string `toml:"addr"`
	MaxWSPerIP  int    `toml:"max_ws_per_ip"`
	AllowOrigin string `toml:"allow_origin"`
}

// Timeouts bound store calls made by the messaging core.
type Timeouts struct {
	Request Duration `toml:"request"`
}

// Profiles configures the display label cache.
type Profiles struct {
	CacheTTL Duration `toml:"cache_ttl"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DefaultInstance: "main",
		Store:           Store{Driver: DriverSQLite},
		Jobs:            Jobs{Concurrency: 2},
		HTTP:            HTTP{MaxWSPerIP: 8},
		Timeouts:        Timeouts{Request: Duration{10 * time.Second}},
		Profiles:        Profiles{CacheTTL: Duration{5 * time.Minute}},
		Log:             Log{Level: "info"},
	}
}

// Load reads config from the given path over the defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from ROOMVIA_* variables, REDIS_URL and DATABASE_URL.
func ApplyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ROOMVIA_INSTANCE", &cfg.DefaultInstance)
	str("ROOMVIA_USER_ID", &cfg.Identity.UserID)
	str("ROOMVIA_TOKEN", &cfg.Identity.Token)
	str("ROOMVIA_STORE_DRIVER", &cfg.Store.Driver)
	str("ROOMVIA_HTTP_ADDR", &cfg.HTTP.Addr)
	str("ROOMVIA_LOG_LEVEL", &cfg.Log.Level)
	str("REDIS_URL", &cfg.Redis.URL)
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Store.DSN = v
		if os.Getenv("ROOMVIA_STORE_DRIVER") == "" {
			cfg.Store.Driver = DriverPostgres
		}
	}
	if v := os.Getenv("ROOMVIA_JOBS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ROOMVIA_JOBS_ENABLED: %w", err)
		}
		cfg.Jobs.Enabled = b
	}
	if v := os.Getenv("ROOMVIA_REQUEST_TIMEOUT"); v != "" {
		if err := cfg.Timeouts.Request.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("ROOMVIA_REQUEST_TIMEOUT: %w", err)
		}
	}
	return nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.driver = %q requires store.dsn or DATABASE_URL", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Jobs.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("jobs.enabled requires redis.url or REDIS_URL")
	}
	if c.Timeouts.Request.Duration <= 0 {
		return fmt.Errorf("timeouts.request must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
