// Package config loads and validates the drover process configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"drover/pkg/logging"
)

// Config is the top-level configuration for a drover process.
type Config struct {
	Watcher    WatcherConfig    `yaml:"watcher"`
	Election   ElectionConfig   `yaml:"election"`
	Controller ControllerConfig `yaml:"controller"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// WatcherConfig tunes the change-polling loop.
type WatcherConfig struct {
	// Name is the bookmark key for this watcher.
	Name string `yaml:"name,omitempty"`

	PollInterval Duration `yaml:"pollInterval,omitempty"`

	// StartFromOldest replays the full change history when no bookmark
	// exists yet; false starts at the current head.
	StartFromOldest bool `yaml:"startFromOldest,omitempty"`

	// BookmarkDir, when set, persists bookmarks as files under this
	// directory so progress survives restarts.
	BookmarkDir string `yaml:"bookmarkDir,omitempty"`
}

// ElectionConfig tunes leader election.
type ElectionConfig struct {
	LockName         string   `yaml:"lockName,omitempty"`
	Identity         string   `yaml:"identity,omitempty"`
	LeaseDuration    Duration `yaml:"leaseDuration,omitempty"`
	RenewDeadline    Duration `yaml:"renewDeadline,omitempty"`
	RetryPeriod      Duration `yaml:"retryPeriod,omitempty"`
	MaxRenewFailures int      `yaml:"maxRenewFailures,omitempty"`
}

// ControllerConfig tunes the reconciliation engine.
type ControllerConfig struct {
	// ConflictRetries bounds version-conflict retries on status writes.
	ConflictRetries int `yaml:"conflictRetries,omitempty"`

	FinalizerRequeue Duration `yaml:"finalizerRequeue,omitempty"`
	DefaultRequeue   Duration `yaml:"defaultRequeue,omitempty"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Watcher.Name == "" {
		c.Watcher.Name = "drover"
	}
	if c.Watcher.PollInterval == 0 {
		c.Watcher.PollInterval = Duration(2 * time.Second)
	}
	if c.Election.LockName == "" {
		c.Election.LockName = "drover/leader"
	}
	if c.Election.LeaseDuration == 0 {
		c.Election.LeaseDuration = Duration(15 * time.Second)
	}
	if c.Election.RenewDeadline == 0 {
		c.Election.RenewDeadline = Duration(10 * time.Second)
	}
	if c.Election.RetryPeriod == 0 {
		c.Election.RetryPeriod = Duration(2 * time.Second)
	}
	if c.Election.MaxRenewFailures == 0 {
		c.Election.MaxRenewFailures = 3
	}
	if c.Controller.ConflictRetries == 0 {
		c.Controller.ConflictRetries = 5
	}
	if c.Controller.FinalizerRequeue == 0 {
		c.Controller.FinalizerRequeue = Duration(10 * time.Second)
	}
	if c.Controller.DefaultRequeue == 0 {
		c.Controller.DefaultRequeue = Duration(15 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.pollInterval must be positive, got %v", c.Watcher.PollInterval)
	}
	if c.Election.RenewDeadline >= c.Election.LeaseDuration {
		return fmt.Errorf("election.renewDeadline (%v) must be shorter than election.leaseDuration (%v)",
			c.Election.RenewDeadline, c.Election.LeaseDuration)
	}
	if c.Election.RetryPeriod >= c.Election.RenewDeadline {
		return fmt.Errorf("election.retryPeriod (%v) must be shorter than election.renewDeadline (%v)",
			c.Election.RetryPeriod, c.Election.RenewDeadline)
	}
	if c.Controller.ConflictRetries < 0 {
		return fmt.Errorf("controller.conflictRetries must not be negative, got %d", c.Controller.ConflictRetries)
	}
	return nil
}

// Load reads a YAML config file, fills in defaults and validates. A missing
// file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "no config file at %s, using defaults", path)
			cfg.applyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logging.Info("Config", "loaded configuration from %s", path)
	return cfg, nil
}
