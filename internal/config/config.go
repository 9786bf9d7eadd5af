// Package config assembles the engine's configuration: per-package defaults,
// overridden by GUARDIAN_* environment variables, overridden by an optional YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spiralos/guardian/internal/deduplication"
	"github.com/spiralos/guardian/internal/detection"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/regulation"
	"github.com/spiralos/guardian/internal/scanner"
	"github.com/spiralos/guardian/internal/server"
	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/watchdog"
)

// DefaultPath is read when no --config flag is given; a missing file is not an error
const DefaultPath = ".guardian/config.yaml"

// Config is the complete engine configuration.
// The YAML file mirrors this structure; absent keys keep their env/default value.
type Config struct {
	Storage       *storage.Config          `yaml:"storage"`
	Thresholds    detection.Thresholds     `yaml:"thresholds"`
	Deduplication deduplication.Config     `yaml:"deduplication"`
	Scanner       *scanner.Config          `yaml:"scanner"`
	Regulation    *regulation.Config       `yaml:"regulation"`
	Notify        notify.Config            `yaml:"notify"`
	Server        *server.Config           `yaml:"server"`
	Watchdog      *watchdog.WatchdogConfig `yaml:"watchdog"`
}

// Default returns the built-in defaults without reading the environment
func Default() *Config {
	return &Config{
		Storage:       storage.DefaultConfig(),
		Thresholds:    detection.DefaultThresholds(),
		Deduplication: deduplication.DefaultConfig(),
		Scanner:       scanner.DefaultConfig(),
		Regulation:    regulation.DefaultConfig(),
		Notify:        notify.DefaultConfig(),
		Server:        server.DefaultConfig(),
		Watchdog:      watchdog.DefaultWatchdogConfig(),
	}
}

// FromEnv builds the configuration from environment variables.
// Each package falls back to its defaults when its variables are invalid.
func FromEnv() *Config {
	dedup, err := deduplication.ConfigFromEnv()
	if err != nil {
		fmt.Printf("Warning: invalid deduplication config from environment: %v\n", err)
		dedup = deduplication.DefaultConfig()
	}

	return &Config{
		Storage:       storage.LoadFromEnv(),
		Thresholds:    detection.LoadThresholdsFromEnv(),
		Deduplication: dedup,
		Scanner:       scanner.LoadFromEnv(),
		Regulation:    regulation.LoadFromEnv(),
		Notify:        notify.LoadFromEnv(),
		Server:        server.LoadFromEnv(),
		Watchdog:      watchdog.LoadFromEnv(),
	}
}

// Load reads the environment and overlays the YAML file at path.
// An empty path uses DefaultPath, which may be absent. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := FromEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.Overlay(data); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// Overlay applies YAML document data on top of c and validates the result
func (c *Config) Overlay(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.fillMissing()
	// Interval may have changed under the loop's backoff state
	c.Watchdog.ResetBackoff()
	return c.Validate()
}

// fillMissing restores sections a document set to null
func (c *Config) fillMissing() {
	if c.Storage == nil {
		c.Storage = storage.DefaultConfig()
	}
	if c.Scanner == nil {
		c.Scanner = scanner.DefaultConfig()
	}
	if c.Regulation == nil {
		c.Regulation = regulation.DefaultConfig()
	}
	if c.Server == nil {
		c.Server = server.DefaultConfig()
	}
	if c.Watchdog == nil {
		c.Watchdog = watchdog.DefaultWatchdogConfig()
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"storage", c.Storage.Validate},
		{"thresholds", c.Thresholds.Validate},
		{"deduplication", c.Deduplication.Validate},
		{"scanner", c.Scanner.Validate},
		{"regulation", c.Regulation.Validate},
		{"notify", c.Notify.Validate},
		{"server", c.Server.Validate},
		{"watchdog", c.Watchdog.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return fmt.Errorf("invalid %s config: %w", check.name, err)
		}
	}
	return nil
}
