package watchdog

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// BackoffConfig controls how the tick interval grows while scans keep failing
type BackoffConfig struct {
	// Enabled controls whether backoff is active
	// Default: true
	Enabled bool `yaml:"enabled"`

	// MaxInterval caps the backed-off interval
	// Default: 30 minutes
	MaxInterval time.Duration `yaml:"max_interval"`

	// Multiplier is applied to the interval for each failed tick past the threshold
	// Default: 2.0
	Multiplier float64 `yaml:"multiplier"`

	// TriggerThreshold is how many consecutive failed ticks start backoff
	// Default: 3
	TriggerThreshold int `yaml:"trigger_threshold"`
}

// BackoffState is a snapshot of the current backoff
type BackoffState struct {
	CurrentInterval     time.Duration
	ConsecutiveFailures int
	LastFailure         time.Time
	IsBackedOff         bool
}

// WatchdogConfig holds the periodic scan loop configuration
type WatchdogConfig struct {
	// Enabled controls whether the loop runs at all
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Interval is the time between scans of every active node
	// Default: 5 minutes
	Interval time.Duration `yaml:"interval"`

	// SlowTickThreshold is the scan duration above which a tick is reported as slow.
	// Scans are never cut short.
	// Default: 2 minutes
	SlowTickThreshold time.Duration `yaml:"slow_tick_threshold"`

	// RunOnStart scans immediately instead of waiting one interval
	// Default: false
	RunOnStart bool `yaml:"run_on_start"`

	BackoffConfig BackoffConfig `yaml:"backoff"`

	mu           sync.RWMutex
	backoffState BackoffState
}

// DefaultWatchdogConfig returns the default loop configuration
func DefaultWatchdogConfig() *WatchdogConfig {
	interval := 5 * time.Minute
	return &WatchdogConfig{
		Enabled:           true,
		Interval:          interval,
		SlowTickThreshold: 2 * time.Minute,
		BackoffConfig: BackoffConfig{
			Enabled:          true,
			MaxInterval:      30 * time.Minute,
			Multiplier:       2.0,
			TriggerThreshold: 3,
		},
		backoffState: BackoffState{CurrentInterval: interval},
	}
}

// LoadFromEnv loads watchdog configuration from environment variables
// Prefix: GUARDIAN_WATCHDOG_
func LoadFromEnv() *WatchdogConfig {
	cfg := DefaultWatchdogConfig()

	if val := os.Getenv("GUARDIAN_WATCHDOG_ENABLED"); val != "" {
		cfg.Enabled = parseBool(val)
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Interval = d
		}
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_SLOW_TICK_THRESHOLD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.SlowTickThreshold = d
		}
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_RUN_ON_START"); val != "" {
		cfg.RunOnStart = parseBool(val)
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_BACKOFF_ENABLED"); val != "" {
		cfg.BackoffConfig.Enabled = parseBool(val)
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_BACKOFF_MAX_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.BackoffConfig.MaxInterval = d
		}
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_BACKOFF_MULTIPLIER"); val != "" {
		if m, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.BackoffConfig.Multiplier = m
		}
	}
	if val := os.Getenv("GUARDIAN_WATCHDOG_BACKOFF_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.BackoffConfig.TriggerThreshold = n
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid watchdog config from environment: %v\n", err)
		return DefaultWatchdogConfig()
	}
	cfg.ResetBackoff()
	return cfg
}

// parseBool parses a boolean string with a default value of true
func parseBool(val string) bool {
	switch val {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *WatchdogConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval too short (minimum 1s), got %v", c.Interval)
	}
	if c.SlowTickThreshold <= 0 {
		return fmt.Errorf("slow_tick_threshold must be positive, got %v", c.SlowTickThreshold)
	}
	if c.BackoffConfig.Enabled {
		if c.BackoffConfig.MaxInterval < c.Interval {
			return fmt.Errorf("backoff max_interval (%v) must be >= interval (%v)",
				c.BackoffConfig.MaxInterval, c.Interval)
		}
		if c.BackoffConfig.Multiplier < 1.0 {
			return fmt.Errorf("backoff multiplier must be >= 1.0, got %f", c.BackoffConfig.Multiplier)
		}
		if c.BackoffConfig.TriggerThreshold <= 0 {
			return fmt.Errorf("backoff trigger_threshold must be positive, got %d", c.BackoffConfig.TriggerThreshold)
		}
	}
	return nil
}

// ResetBackoff returns the loop to the base interval
func (c *WatchdogConfig) ResetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoffState = BackoffState{CurrentInterval: c.Interval}
}

// RecordFailure counts a failed tick and grows the interval once the threshold is reached
func (c *WatchdogConfig) RecordFailure(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backoffState.ConsecutiveFailures++
	c.backoffState.LastFailure = at
	if !c.BackoffConfig.Enabled || c.backoffState.ConsecutiveFailures < c.BackoffConfig.TriggerThreshold {
		return
	}

	current := c.backoffState.CurrentInterval
	if current <= 0 {
		current = c.Interval
	}
	next := time.Duration(float64(current) * c.BackoffConfig.Multiplier)
	if next > c.BackoffConfig.MaxInterval {
		next = c.BackoffConfig.MaxInterval
	}
	if next != current {
		fmt.Printf("Watchdog: %d consecutive failed scans, backing off to %v\n",
			c.backoffState.ConsecutiveFailures, next)
	}
	c.backoffState.CurrentInterval = next
	c.backoffState.IsBackedOff = true
}

// RecordSuccess resets backoff after a tick that scanned cleanly
func (c *WatchdogConfig) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backoffState.IsBackedOff {
		fmt.Printf("Watchdog: scan succeeded, restoring interval %v\n", c.Interval)
	}
	c.backoffState = BackoffState{CurrentInterval: c.Interval}
}

// GetCurrentInterval returns the effective interval, which may be backed off
func (c *WatchdogConfig) GetCurrentInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backoffState.CurrentInterval <= 0 {
		return c.Interval
	}
	return c.backoffState.CurrentInterval
}

// GetBackoffState returns a copy of the current backoff state
func (c *WatchdogConfig) GetBackoffState() BackoffState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backoffState
}
