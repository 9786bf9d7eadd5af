package deduplication

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the deduplication gate
type Config struct {
	// Window is how far back to search for an ACTIVE anomaly of the same (node, type)
	// Default: 60 minutes
	// Too large = real recurrences are hidden behind a stale record
	// Too small = a flapping node floods the anomaly table
	Window time.Duration `yaml:"window"`

	// EnableWithinBatchDedup collapses findings of the same (node, type) within one batch
	// The ScarIndex detector can report a low value and a sharp drop in the same scan
	// Default: true (only the first finding of each type is inserted)
	EnableWithinBatchDedup bool `yaml:"within_batch"`

	// FailOpen determines behavior when the anomaly store cannot be queried
	// If true: admit the anomaly (prefer a duplicate record over a missed incident)
	// If false: return an error and let the caller drop the finding
	// Default: true
	FailOpen bool `yaml:"fail_open"`

	// LookupTimeout bounds each store lookup
	// Default: 5 seconds
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// DefaultConfig returns the default deduplication configuration
func DefaultConfig() Config {
	return Config{
		Window:                 60 * time.Minute,
		EnableWithinBatchDedup: true,
		FailOpen:               true,
		LookupTimeout:          5 * time.Second,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive (got %v)", c.Window)
	}
	if c.Window > 7*24*time.Hour {
		return fmt.Errorf("window too large (got %v, max 7 days)", c.Window)
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup_timeout must be positive (got %v)", c.LookupTimeout)
	}
	if c.LookupTimeout > 5*time.Minute {
		return fmt.Errorf("lookup_timeout too large (got %v, max 5 minutes)", c.LookupTimeout)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Window: %v, WithinBatch: %t, FailOpen: %t, Timeout: %v}",
		c.Window, c.EnableWithinBatchDedup, c.FailOpen, c.LookupTimeout)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - GUARDIAN_DEDUP_WINDOW_MINUTES: Suppression window in minutes (default: 60)
//   - GUARDIAN_DEDUP_WITHIN_BATCH: Collapse repeats within one scan (default: true)
//   - GUARDIAN_DEDUP_FAIL_OPEN: Admit anomalies when the lookup fails (default: true)
//   - GUARDIAN_DEDUP_TIMEOUT_SECS: Lookup timeout in seconds (default: 5)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvDuration("GUARDIAN_DEDUP_WINDOW_MINUTES", &cfg.Window, time.Minute); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("GUARDIAN_DEDUP_WITHIN_BATCH", &cfg.EnableWithinBatchDedup); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("GUARDIAN_DEDUP_FAIL_OPEN", &cfg.FailOpen); err != nil {
		return cfg, err
	}
	if err := parseEnvDuration("GUARDIAN_DEDUP_TIMEOUT_SECS", &cfg.LookupTimeout, time.Second); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}

	return cfg, nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
// The multiplier converts the numeric value to a duration
// (e.g., for minutes: multiplier = time.Minute)
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}
