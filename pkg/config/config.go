// Package config loads the launcher configuration. Runtime knobs live in a
// YAML file under the user config directory; per-user presentation state
// (window geometry, filters) is a store document owned by the repository,
// not part of this file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the launcher configuration.
type Config struct {
	// DataDir is where documents, the vault key and browser data live.
	DataDir string `yaml:"data_dir"`

	// MaxSessions caps simultaneously running browser sessions.
	MaxSessions int `yaml:"max_sessions"`

	// BatchConcurrency caps per-batch launch parallelism. It nests inside
	// MaxSessions; a batch can never exceed the global cap.
	BatchConcurrency int `yaml:"batch_concurrency"`

	// StopTimeout bounds the graceful-close wait before force termination.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// ZombieAfter is the monitor sanity ceiling: a session silent for this
	// long is treated as a zombie and force-terminated.
	ZombieAfter time.Duration `yaml:"zombie_after"`

	// Headless launches browser contexts without a visible window.
	Headless bool `yaml:"headless"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:          filepath.Join(xdg.DataHome, "mantle"),
		MaxSessions:      5,
		BatchConcurrency: 3,
		StopTimeout:      30 * time.Second,
		ZombieAfter:      24 * time.Hour,
		Headless:         false,
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "mantle", "config.yaml")
}

// Load reads the YAML config at path, filling unset fields with defaults.
// A missing file is not an error; it yields Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("config: batch_concurrency must be positive, got %d", c.BatchConcurrency)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("config: stop_timeout must be positive, got %s", c.StopTimeout)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	return nil
}

// KeyPath returns the vault key file location under the data dir.
func (c Config) KeyPath() string {
	return filepath.Join(c.DataDir, "vault.key")
}

// BrowserDataDir returns the browser user-data directory for a profile.
func (c Config) BrowserDataDir(profileID string) string {
	return filepath.Join(c.DataDir, "browser_data", profileID)
}
