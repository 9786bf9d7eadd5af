package detection

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

// Thresholds holds every tunable literal used by the detector set.
// A Thresholds value is passed by value into each detection run and never mutated.
type Thresholds struct {
	// HeartbeatGap is the silence after which a node is reported
	// Default: 10m
	HeartbeatGap time.Duration `yaml:"heartbeat_gap"`

	// HeartbeatCritical escalates a heartbeat gap to CRITICAL
	// Default: 30m
	HeartbeatCritical time.Duration `yaml:"heartbeat_critical"`

	// AcheWindow is how many recent ache signatures are fetched
	// Default: 10
	AcheWindow int `yaml:"ache_window"`

	// AcheHigh is the latest-ache level that fires regardless of delta
	// Default: 0.80
	AcheHigh float64 `yaml:"ache_high"`

	// AcheCritical escalates an ache spike to CRITICAL
	// Default: 0.90
	AcheCritical float64 `yaml:"ache_critical"`

	// AcheDelta is the jump between the two latest ache values that fires
	// Default: 0.25
	AcheDelta float64 `yaml:"ache_delta"`

	// ScarIndexLow is the coherence floor below which a node is reported
	// Default: 0.40
	ScarIndexLow float64 `yaml:"scarindex_low"`

	// ScarIndexCritical escalates a low coherence value to CRITICAL
	// Default: 0.25
	ScarIndexCritical float64 `yaml:"scarindex_critical"`

	// ScarIndexHistoryWindow is how many historical values are fetched for drop detection
	// Default: 5
	ScarIndexHistoryWindow int `yaml:"scarindex_history_window"`

	// ScarIndexDropPercent is the relative drop that fires
	// Default: 20
	ScarIndexDropPercent float64 `yaml:"scarindex_drop_percent"`

	// ScarIndexDropCritical escalates a drop to CRITICAL
	// Default: 40
	ScarIndexDropCritical float64 `yaml:"scarindex_drop_critical"`

	// SovereigntyWindow is the lookback for state label changes
	// Default: 60m
	SovereigntyWindow time.Duration `yaml:"sovereignty_window"`

	// SovereigntyChanges is the number of state changes in the window that fires
	// Default: 3
	SovereigntyChanges int `yaml:"sovereignty_changes"`

	// SovereigntyCritical escalates instability to CRITICAL when exceeded
	// Default: 5
	SovereigntyCritical int `yaml:"sovereignty_critical"`

	// EntropyWindow is how many recent samples feed the entropy computation
	// Default: 20
	EntropyWindow int `yaml:"entropy_window"`

	// EntropyMinSamples is the minimum sample count for an entropy verdict
	// Default: 10
	EntropyMinSamples int `yaml:"entropy_min_samples"`

	// EntropyThreshold is the normalized entropy that fires
	// Default: 0.15
	EntropyThreshold float64 `yaml:"entropy_threshold"`

	// EntropyHigh escalates an entropy spike from MEDIUM to HIGH
	// Default: 0.20
	EntropyHigh float64 `yaml:"entropy_high"`
}

// DefaultThresholds returns the production detector thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeartbeatGap:           10 * time.Minute,
		HeartbeatCritical:      30 * time.Minute,
		AcheWindow:             10,
		AcheHigh:               0.80,
		AcheCritical:           0.90,
		AcheDelta:              0.25,
		ScarIndexLow:           0.40,
		ScarIndexCritical:      0.25,
		ScarIndexHistoryWindow: 5,
		ScarIndexDropPercent:   20,
		ScarIndexDropCritical:  40,
		SovereigntyWindow:      60 * time.Minute,
		SovereigntyChanges:     3,
		SovereigntyCritical:    5,
		EntropyWindow:          20,
		EntropyMinSamples:      10,
		EntropyThreshold:       0.15,
		EntropyHigh:            0.20,
	}
}

// WithOverrides returns a copy with the per-node tightened thresholds applied.
// A nil override returns t unchanged.
func (t Thresholds) WithOverrides(o *types.TightenedThresholds) Thresholds {
	if o == nil {
		return t
	}
	if o.AcheThreshold > 0 {
		t.AcheHigh = o.AcheThreshold
	}
	if o.EntropyThreshold > 0 {
		t.EntropyThreshold = o.EntropyThreshold
	}
	if o.ScarIndexThreshold > 0 {
		t.ScarIndexLow = o.ScarIndexThreshold
	}
	return t
}

// Validate checks that the thresholds are internally consistent
func (t Thresholds) Validate() error {
	if t.HeartbeatGap <= 0 {
		return fmt.Errorf("heartbeat_gap must be positive (got %v)", t.HeartbeatGap)
	}
	if t.HeartbeatCritical < t.HeartbeatGap {
		return fmt.Errorf("heartbeat_critical (%v) must be >= heartbeat_gap (%v)", t.HeartbeatCritical, t.HeartbeatGap)
	}
	if t.AcheWindow < 2 {
		return fmt.Errorf("ache_window must be at least 2 (got %d)", t.AcheWindow)
	}
	for name, v := range map[string]float64{
		"ache_high":          t.AcheHigh,
		"ache_critical":      t.AcheCritical,
		"ache_delta":         t.AcheDelta,
		"scarindex_low":      t.ScarIndexLow,
		"scarindex_critical": t.ScarIndexCritical,
		"entropy_threshold":  t.EntropyThreshold,
		"entropy_high":       t.EntropyHigh,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1 (got %.2f)", name, v)
		}
	}
	if t.ScarIndexHistoryWindow < 2 {
		return fmt.Errorf("scarindex_history_window must be at least 2 (got %d)", t.ScarIndexHistoryWindow)
	}
	if t.ScarIndexDropPercent <= 0 || t.ScarIndexDropCritical < t.ScarIndexDropPercent {
		return fmt.Errorf("scarindex drop thresholds invalid (drop %.1f, critical %.1f)",
			t.ScarIndexDropPercent, t.ScarIndexDropCritical)
	}
	if t.SovereigntyWindow <= 0 {
		return fmt.Errorf("sovereignty_window must be positive (got %v)", t.SovereigntyWindow)
	}
	if t.SovereigntyChanges < 1 || t.SovereigntyCritical < t.SovereigntyChanges {
		return fmt.Errorf("sovereignty thresholds invalid (changes %d, critical %d)",
			t.SovereigntyChanges, t.SovereigntyCritical)
	}
	if t.EntropyMinSamples < 2 || t.EntropyWindow < t.EntropyMinSamples {
		return fmt.Errorf("entropy window (%d) must be >= min samples (%d) >= 2",
			t.EntropyWindow, t.EntropyMinSamples)
	}
	return nil
}

// LoadThresholdsFromEnv loads thresholds from environment variables
// Prefix: GUARDIAN_DETECT_
func LoadThresholdsFromEnv() Thresholds {
	t := DefaultThresholds()

	durations := map[string]*time.Duration{
		"GUARDIAN_DETECT_HEARTBEAT_GAP":      &t.HeartbeatGap,
		"GUARDIAN_DETECT_HEARTBEAT_CRITICAL": &t.HeartbeatCritical,
		"GUARDIAN_DETECT_SOVEREIGNTY_WINDOW": &t.SovereigntyWindow,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}

	floats := map[string]*float64{
		"GUARDIAN_DETECT_ACHE_HIGH":          &t.AcheHigh,
		"GUARDIAN_DETECT_ACHE_CRITICAL":      &t.AcheCritical,
		"GUARDIAN_DETECT_ACHE_DELTA":         &t.AcheDelta,
		"GUARDIAN_DETECT_SCARINDEX_LOW":      &t.ScarIndexLow,
		"GUARDIAN_DETECT_SCARINDEX_CRITICAL": &t.ScarIndexCritical,
		"GUARDIAN_DETECT_SCARINDEX_DROP":     &t.ScarIndexDropPercent,
		"GUARDIAN_DETECT_ENTROPY_THRESHOLD":  &t.EntropyThreshold,
		"GUARDIAN_DETECT_ENTROPY_HIGH":       &t.EntropyHigh,
	}
	for key, dst := range floats {
		if val := os.Getenv(key); val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = f
			}
		}
	}

	if val := os.Getenv("GUARDIAN_DETECT_SOVEREIGNTY_CHANGES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			t.SovereigntyChanges = n
		}
	}

	if err := t.Validate(); err != nil {
		fmt.Printf("Warning: invalid detection thresholds from environment: %v\n", err)
		return DefaultThresholds()
	}

	return t
}
