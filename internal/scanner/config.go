package scanner

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls how scans run and how much regulation they may fire
type Config struct {
	// MaxConcurrentRegulations bounds in-flight asynchronous regulations
	// Default: 4
	MaxConcurrentRegulations int `yaml:"max_concurrent_regulations"`

	// RegulationTimeout bounds one asynchronous regulation run
	// Default: 2m
	RegulationTimeout time.Duration `yaml:"regulation_timeout"`

	// StoreTimeout bounds each store call the scanner makes itself
	// Default: 5s
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// AutoRegulate fires regulation for nodes with new HIGH/CRITICAL anomalies
	// Default: true
	AutoRegulate bool `yaml:"auto_regulate"`
}

// DefaultConfig returns the default scanner configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentRegulations: 4,
		RegulationTimeout:        2 * time.Minute,
		StoreTimeout:             5 * time.Second,
		AutoRegulate:             true,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrentRegulations < 1 {
		return fmt.Errorf("max_concurrent_regulations must be at least 1 (got %d)", c.MaxConcurrentRegulations)
	}
	if c.RegulationTimeout <= 0 {
		return fmt.Errorf("regulation_timeout must be positive (got %v)", c.RegulationTimeout)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store_timeout must be positive (got %v)", c.StoreTimeout)
	}
	return nil
}

// LoadFromEnv loads scanner configuration from environment variables
// Prefix: GUARDIAN_SCAN_
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if val := os.Getenv("GUARDIAN_SCAN_MAX_CONCURRENT_REGULATIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.MaxConcurrentRegulations = n
		}
	}
	if val := os.Getenv("GUARDIAN_SCAN_REGULATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.RegulationTimeout = d
		}
	}
	if val := os.Getenv("GUARDIAN_SCAN_STORE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.StoreTimeout = d
		}
	}
	if val := os.Getenv("GUARDIAN_SCAN_AUTO_REGULATE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.AutoRegulate = b
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid scanner config from environment: %v\n", err)
		return DefaultConfig()
	}

	return cfg
}
