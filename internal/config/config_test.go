package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultInstance = "work"
	cfg.Identity.UserID = "alice"
	cfg.Timeouts.Request = Duration{3 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultInstance != "work" || loaded.Identity.UserID != "alice" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Timeouts.Request.Duration != 3*time.Second {
		t.Errorf("request timeout = %s, want 3s", loaded.Timeouts.Request)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[store]\ndriver = \"sqlite\"\n[timeouts]\nrequest = \"2s\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultInstance != "main" || cfg.HTTP.MaxWSPerIP != 8 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Timeouts.Request.Duration != 2*time.Second {
		t.Errorf("request timeout = %s, want 2s", cfg.Timeouts.Request)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[timeouts]\nrequest = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should reject a malformed duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil || cfg.DefaultInstance != "main" {
		t.Errorf("LoadOrDefault = %+v, %v", cfg, err)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ROOMVIA_USER_ID", "bob")
	t.Setenv("DATABASE_URL", "postgresql+asyncpg://db/roomvia")
	t.Setenv("ROOMVIA_STORE_DRIVER", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ROOMVIA_JOBS_ENABLED", "true")
	t.Setenv("ROOMVIA_REQUEST_TIMEOUT", "4s")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Identity.UserID != "bob" {
		t.Errorf("user = %q, want bob", cfg.Identity.UserID)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN == "" {
		t.Errorf("store = %+v, want postgres with dsn", cfg.Store)
	}
	if !cfg.Jobs.Enabled || cfg.Redis.URL == "" {
		t.Errorf("jobs = %+v, redis = %+v", cfg.Jobs, cfg.Redis)
	}
	if cfg.Timeouts.Request.Duration != 4*time.Second {
		t.Errorf("timeout = %s, want 4s", cfg.Timeouts.Request)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ROOMVIA_TEST_DOTENV=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROOMVIA_TEST_DOTENV", "")
	if err := os.Unsetenv("ROOMVIA_TEST_DOTENV"); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("ROOMVIA_TEST_DOTENV"); got != "from-file" {
		t.Errorf("ROOMVIA_TEST_DOTENV = %q, want from-file", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, true},
		{"jobs without redis", func(c *Config) { c.Jobs.Enabled = true }, true},
		{"zero timeout", func(c *Config) { c.Timeouts.Request = Duration{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
