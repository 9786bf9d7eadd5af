package types

import (
	"fmt"
	"time"
)

// Profile defaults applied when a node has no correction profile yet
const (
	DefaultBaselineCoherence = 0.8
	DefaultCorrectionBudget  = 100
	DefaultCooldownSeconds   = 300
)

// DefaultPreferredCorrections is the preferred correction list of a freshly created profile
var DefaultPreferredCorrections = []CorrectionType{
	CorrectionHeartbeat,
	CorrectionAcheBuffer,
	CorrectionScarIndexRecovery,
}

// CorrectionProfile holds per-node regulation policy and transient mode flags.
// At most one profile exists per node.
type CorrectionProfile struct {
	NodeID               string           `json:"node_id"`
	BaselineCoherence    float64          `json:"baseline_coherence"`
	PreferredCorrections []CorrectionType `json:"preferred_corrections"`
	// CorrectionBudget is the number of non-critical corrections still allowed in the
	// current budget window. Freeze mode sets it to 0; thawing or the end of the
	// window restores DefaultCorrectionBudget.
	CorrectionBudget int             `json:"correction_budget"`
	CooldownSeconds  int             `json:"cooldown_seconds"`
	Metadata         ProfileMetadata `json:"metadata"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewDefaultProfile returns the profile auto-created for a node on first regulation
func NewDefaultProfile(nodeID string, now time.Time) *CorrectionProfile {
	preferred := make([]CorrectionType, len(DefaultPreferredCorrections))
	copy(preferred, DefaultPreferredCorrections)
	return &CorrectionProfile{
		NodeID:               nodeID,
		BaselineCoherence:    DefaultBaselineCoherence,
		PreferredCorrections: preferred,
		CorrectionBudget:     DefaultCorrectionBudget,
		CooldownSeconds:      DefaultCooldownSeconds,
		Metadata:             ProfileMetadata{AutoCreated: true},
		UpdatedAt:            now,
	}
}

// Validate checks if the profile has valid field values
func (p *CorrectionProfile) Validate() error {
	if p.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if p.CorrectionBudget < 0 {
		return fmt.Errorf("correction_budget cannot be negative (got %d)", p.CorrectionBudget)
	}
	if p.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds cannot be negative (got %d)", p.CooldownSeconds)
	}
	for _, c := range p.PreferredCorrections {
		if !c.IsValid() {
			return fmt.Errorf("invalid preferred correction: %s", c)
		}
	}
	return nil
}

// Cooldown returns the minimum spacing between corrections for this node
func (p *CorrectionProfile) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

// ProfileMetadata is the set of transient mode flags stored on a profile.
// Each mode carries a start time and duration; a mode whose window has elapsed
// is treated as inactive even if its flag is still set.
type ProfileMetadata struct {
	AutoCreated bool `json:"auto_created,omitempty"`

	// BudgetWindowStarted is when the first correction of the current budget window was spent
	BudgetWindowStarted *time.Time `json:"budget_window_started,omitempty"`

	FreezeActive          bool       `json:"freeze_mode_active,omitempty"`
	FreezeStarted         *time.Time `json:"freeze_started,omitempty"`
	FreezeDurationSeconds int        `json:"freeze_duration_seconds,omitempty"`
	FreezeReason          string     `json:"freeze_reason,omitempty"`

	AcheBufferActive          bool       `json:"ache_buffer_active,omitempty"`
	AcheBufferStarted         *time.Time `json:"ache_buffer_started,omitempty"`
	AcheBufferDurationSeconds int        `json:"ache_buffer_duration_seconds,omitempty"`
	DampeningFactor           float64    `json:"dampening_factor,omitempty"`

	EntropyCorrectionActive          bool                 `json:"entropy_correction_active,omitempty"`
	EntropyCorrectionStarted         *time.Time           `json:"entropy_correction_started,omitempty"`
	EntropyCorrectionDurationSeconds int                  `json:"entropy_correction_duration_seconds,omitempty"`
	TightenedThresholds              *TightenedThresholds `json:"tightened_thresholds,omitempty"`
}

// TightenedThresholds override detection thresholds while entropy correction is active
type TightenedThresholds struct {
	AcheThreshold      float64 `json:"ache_threshold" yaml:"ache_threshold"`
	EntropyThreshold   float64 `json:"entropy_threshold" yaml:"entropy_threshold"`
	ScarIndexThreshold float64 `json:"scarindex_threshold" yaml:"scarindex_threshold"`
}

// FreezeInEffect reports whether freeze mode is set and its window has not elapsed
func (m ProfileMetadata) FreezeInEffect(now time.Time) bool {
	return m.FreezeActive && windowOpen(m.FreezeStarted, m.FreezeDurationSeconds, now)
}

// FreezeExpired reports whether freeze mode is still flagged but its window has elapsed
func (m ProfileMetadata) FreezeExpired(now time.Time) bool {
	return m.FreezeActive && !windowOpen(m.FreezeStarted, m.FreezeDurationSeconds, now)
}

// AcheBufferInEffect reports whether the ache buffer window is open
func (m ProfileMetadata) AcheBufferInEffect(now time.Time) bool {
	return m.AcheBufferActive && windowOpen(m.AcheBufferStarted, m.AcheBufferDurationSeconds, now)
}

// EntropyCorrectionInEffect reports whether the tightened-threshold window is open
func (m ProfileMetadata) EntropyCorrectionInEffect(now time.Time) bool {
	return m.EntropyCorrectionActive &&
		m.TightenedThresholds != nil &&
		windowOpen(m.EntropyCorrectionStarted, m.EntropyCorrectionDurationSeconds, now)
}

// BudgetWindowElapsed reports whether the budget window that started with the first
// spend has run for at least window. A window that never started has not elapsed.
func (m ProfileMetadata) BudgetWindowElapsed(window time.Duration, now time.Time) bool {
	return m.BudgetWindowStarted != nil && !now.Before(m.BudgetWindowStarted.Add(window))
}

// ClearFreeze drops every freeze field
func (m *ProfileMetadata) ClearFreeze() {
	m.FreezeActive = false
	m.FreezeStarted = nil
	m.FreezeDurationSeconds = 0
	m.FreezeReason = ""
}

// windowOpen treats a missing start or non-positive duration as an open-ended window
func windowOpen(started *time.Time, durationSeconds int, now time.Time) bool {
	if started == nil || durationSeconds <= 0 {
		return true
	}
	return now.Before(started.Add(time.Duration(durationSeconds) * time.Second))
}
