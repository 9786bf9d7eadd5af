package regulation

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

// Config holds strategy parameters and dispatch limits
type Config struct {
	// RecoveryFloor is the minimum coherence value a recovery pulse writes
	// Default: 0.5
	RecoveryFloor float64 `yaml:"recovery_floor"`

	// RecoveryMultiplier scales the current coherence value during a recovery pulse
	// Default: 1.15
	RecoveryMultiplier float64 `yaml:"recovery_multiplier"`

	// StabilizerWindow is how many recent samples the stabilizer votes over
	// Default: 10
	StabilizerWindow int `yaml:"stabilizer_window"`

	// AcheBufferDuration is how long ache buffering stays active
	// Default: 30m
	AcheBufferDuration time.Duration `yaml:"ache_buffer_duration"`

	// DampeningFactor scales downstream ache contributions while buffering
	// Default: 0.7
	DampeningFactor float64 `yaml:"dampening_factor"`

	// EntropyCorrectionDuration is how long tightened thresholds apply
	// Default: 1h
	EntropyCorrectionDuration time.Duration `yaml:"entropy_correction_duration"`

	// TightenedThresholds are the detector thresholds used during entropy correction
	// Default: ache 0.70, entropy 0.12, scarindex 0.45
	TightenedThresholds types.TightenedThresholds `yaml:"tightened_thresholds"`

	// FreezeDuration is how long self-preservation freeze lasts
	// Default: 30m
	FreezeDuration time.Duration `yaml:"freeze_duration"`

	// BudgetWindow is how long a node's correction budget lasts before it is restored
	// Default: 1h
	BudgetWindow time.Duration `yaml:"budget_window"`

	// StoreTimeout bounds each strategy and store call
	// Default: 5s
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// DefaultConfig returns the production regulation parameters
func DefaultConfig() *Config {
	return &Config{
		RecoveryFloor:             0.5,
		RecoveryMultiplier:        1.15,
		StabilizerWindow:          10,
		AcheBufferDuration:        30 * time.Minute,
		DampeningFactor:           0.7,
		EntropyCorrectionDuration: time.Hour,
		TightenedThresholds: types.TightenedThresholds{
			AcheThreshold:      0.70,
			EntropyThreshold:   0.12,
			ScarIndexThreshold: 0.45,
		},
		FreezeDuration: 30 * time.Minute,
		BudgetWindow:   time.Hour,
		StoreTimeout:   5 * time.Second,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.RecoveryFloor <= 0 || c.RecoveryFloor > 1 {
		return fmt.Errorf("recovery_floor must be in (0, 1] (got %.2f)", c.RecoveryFloor)
	}
	if c.RecoveryMultiplier < 1 {
		return fmt.Errorf("recovery_multiplier must be >= 1 (got %.2f)", c.RecoveryMultiplier)
	}
	if c.StabilizerWindow < 1 {
		return fmt.Errorf("stabilizer_window must be positive (got %d)", c.StabilizerWindow)
	}
	if c.AcheBufferDuration <= 0 {
		return fmt.Errorf("ache_buffer_duration must be positive (got %v)", c.AcheBufferDuration)
	}
	if c.DampeningFactor <= 0 || c.DampeningFactor > 1 {
		return fmt.Errorf("dampening_factor must be in (0, 1] (got %.2f)", c.DampeningFactor)
	}
	if c.EntropyCorrectionDuration <= 0 {
		return fmt.Errorf("entropy_correction_duration must be positive (got %v)", c.EntropyCorrectionDuration)
	}
	th := c.TightenedThresholds
	for name, v := range map[string]float64{
		"ache_threshold":      th.AcheThreshold,
		"entropy_threshold":   th.EntropyThreshold,
		"scarindex_threshold": th.ScarIndexThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("tightened %s must be in (0, 1] (got %.2f)", name, v)
		}
	}
	if c.FreezeDuration <= 0 {
		return fmt.Errorf("freeze_duration must be positive (got %v)", c.FreezeDuration)
	}
	if c.BudgetWindow <= 0 {
		return fmt.Errorf("budget_window must be positive (got %v)", c.BudgetWindow)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store_timeout must be positive (got %v)", c.StoreTimeout)
	}
	return nil
}

// LoadFromEnv loads regulation configuration from environment variables
// Prefix: GUARDIAN_REG_
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	floats := map[string]*float64{
		"GUARDIAN_REG_RECOVERY_FLOOR":      &cfg.RecoveryFloor,
		"GUARDIAN_REG_RECOVERY_MULTIPLIER": &cfg.RecoveryMultiplier,
		"GUARDIAN_REG_DAMPENING_FACTOR":    &cfg.DampeningFactor,
	}
	for key, dst := range floats {
		if val := os.Getenv(key); val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = f
			}
		}
	}

	durations := map[string]*time.Duration{
		"GUARDIAN_REG_ACHE_BUFFER_DURATION":        &cfg.AcheBufferDuration,
		"GUARDIAN_REG_ENTROPY_CORRECTION_DURATION": &cfg.EntropyCorrectionDuration,
		"GUARDIAN_REG_FREEZE_DURATION":             &cfg.FreezeDuration,
		"GUARDIAN_REG_BUDGET_WINDOW":               &cfg.BudgetWindow,
		"GUARDIAN_REG_STORE_TIMEOUT":               &cfg.StoreTimeout,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}

	if val := os.Getenv("GUARDIAN_REG_STABILIZER_WINDOW"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.StabilizerWindow = n
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid regulation config from environment: %v\n", err)
		return DefaultConfig()
	}

	return cfg
}

// describeDuration renders a window the way alerts and results phrase it ("30 minutes", "1 hour")
func describeDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
