package server

import (
	"fmt"
	"os"
	"time"
)

// Config holds HTTP server settings
type Config struct {
	// Addr is the listen address
	// Default: ":8080"
	Addr string `yaml:"addr"`

	// APIKey is the shared secret expected in the x-guardian-api-key header.
	// An empty key rejects every authenticated request.
	APIKey string `yaml:"api_key"`

	// ReadTimeout bounds reading a request
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response, including the scan itself
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive (read %v, write %v, shutdown %v)",
			c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout)
	}
	return nil
}

// LoadFromEnv loads server configuration from environment variables
// Prefix: GUARDIAN_HTTP_ (and GUARDIAN_API_KEY)
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if val := os.Getenv("GUARDIAN_HTTP_ADDR"); val != "" {
		cfg.Addr = val
	}
	cfg.APIKey = os.Getenv("GUARDIAN_API_KEY")

	durations := map[string]*time.Duration{
		"GUARDIAN_HTTP_READ_TIMEOUT":     &cfg.ReadTimeout,
		"GUARDIAN_HTTP_WRITE_TIMEOUT":    &cfg.WriteTimeout,
		"GUARDIAN_HTTP_SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid server config from environment: %v\n", err)
		fallback := DefaultConfig()
		fallback.APIKey = cfg.APIKey
		return fallback
	}

	return cfg
}
