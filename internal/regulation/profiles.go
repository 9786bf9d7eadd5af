package regulation

import (
	"context"
	"fmt"
	"time"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// ProfileManager fetches or lazily creates per-node correction profiles.
// Writes are last-writer-wins; two concurrent creators may both insert defaults.
type ProfileManager struct {
	store storage.ProfileStore
	now   func() time.Time
}

// NewProfileManager creates a profile manager. A nil clock uses time.Now.
func NewProfileManager(store storage.ProfileStore, now func() time.Time) *ProfileManager {
	if now == nil {
		now = time.Now
	}
	return &ProfileManager{store: store, now: now}
}

// Get returns the node's profile or (nil, nil) when none exists
func (m *ProfileManager) Get(ctx context.Context, nodeID string) (*types.CorrectionProfile, error) {
	profile, err := m.store.GetProfile(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get correction profile for %s: %w", nodeID, err)
	}
	return profile, nil
}

// GetOrCreate returns the node's profile, creating one with defaults if absent
func (m *ProfileManager) GetOrCreate(ctx context.Context, nodeID string) (*types.CorrectionProfile, error) {
	profile, err := m.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	profile = types.NewDefaultProfile(nodeID, m.now())
	if err := m.store.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create correction profile for %s: %w", nodeID, err)
	}
	fmt.Printf("Profiles: created default correction profile for node %s\n", nodeID)
	return profile, nil
}

// Update applies fn to the node's current profile (creating it if needed) and writes it back
func (m *ProfileManager) Update(ctx context.Context, nodeID string, fn func(p *types.CorrectionProfile) error) (*types.CorrectionProfile, error) {
	profile, err := m.GetOrCreate(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := fn(profile); err != nil {
		return nil, err
	}
	profile.UpdatedAt = m.now()
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correction profile for %s: %w", nodeID, err)
	}
	if err := m.store.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to update correction profile for %s: %w", nodeID, err)
	}
	return profile, nil
}

// Thaw clears an expired freeze and restores the default correction budget.
// It returns the profile unchanged when no expired freeze is present.
func (m *ProfileManager) Thaw(ctx context.Context, profile *types.CorrectionProfile) (*types.CorrectionProfile, error) {
	if !profile.Metadata.FreezeExpired(m.now()) {
		return profile, nil
	}
	return m.Update(ctx, profile.NodeID, func(p *types.CorrectionProfile) error {
		p.Metadata.ClearFreeze()
		p.CorrectionBudget = types.DefaultCorrectionBudget
		p.Metadata.BudgetWindowStarted = nil
		return nil
	})
}

// RefillBudget restores the default correction budget once the budget window has elapsed.
// It returns the profile unchanged while the window is open or the budget is already full.
func (m *ProfileManager) RefillBudget(ctx context.Context, profile *types.CorrectionProfile, window time.Duration) (*types.CorrectionProfile, error) {
	if profile.CorrectionBudget >= types.DefaultCorrectionBudget ||
		!profile.Metadata.BudgetWindowElapsed(window, m.now()) {
		return profile, nil
	}
	return m.Update(ctx, profile.NodeID, func(p *types.CorrectionProfile) error {
		p.CorrectionBudget = types.DefaultCorrectionBudget
		p.Metadata.BudgetWindowStarted = nil
		return nil
	})
}

// SpendBudget decrements the node's correction budget by one, never below zero.
// The first spend after a refill opens a new budget window.
func (m *ProfileManager) SpendBudget(ctx context.Context, nodeID string) (*types.CorrectionProfile, error) {
	return m.Update(ctx, nodeID, func(p *types.CorrectionProfile) error {
		if p.Metadata.BudgetWindowStarted == nil {
			started := m.now()
			p.Metadata.BudgetWindowStarted = &started
		}
		if p.CorrectionBudget > 0 {
			p.CorrectionBudget--
		}
		return nil
	})
}
