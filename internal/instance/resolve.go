// Package instance names the daemon instances under ~/.roomvia and the files
// each one owns.
package instance

import (
	"fmt"
	"regexp"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/config"
)

const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to instance naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve determines the active instance name using precedence:
// 1. flagOverride (--instance flag)
// 2. cfg.DefaultInstance
// 3. "main"
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultInstance != "" {
		return cfg.DefaultInstance
	}
	return DefaultName
}

// LoadConfig reads config.toml and .env from the base directory and applies
// environment overrides.
func LoadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env", EnvPath()); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ConfigPath(), err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
