package regulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/storage/memory"
	"github.com/spiralos/guardian/internal/types"
)

func TestProfileManagerGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newTestClock()
	pm := NewProfileManager(store, clock.Now)

	p, err := pm.Get(ctx, "node-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = pm.GetOrCreate(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultBaselineCoherence, p.BaselineCoherence)
	assert.Equal(t, types.DefaultCorrectionBudget, p.CorrectionBudget)
	assert.Equal(t, types.DefaultCooldownSeconds, p.CooldownSeconds)
	assert.True(t, p.Metadata.AutoCreated)

	// Second call returns the stored profile, not fresh defaults
	p.CorrectionBudget = 42
	require.NoError(t, store.UpsertProfile(ctx, p))
	again, err := pm.GetOrCreate(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, 42, again.CorrectionBudget)
}

func TestProfileManagerUpdate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newTestClock()
	pm := NewProfileManager(store, clock.Now)

	clock.Advance(time.Minute)
	updated, err := pm.Update(ctx, "node-1", func(p *types.CorrectionProfile) error {
		p.CooldownSeconds = 60
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 60, updated.CooldownSeconds)
	assert.Equal(t, clock.Now(), updated.UpdatedAt)

	stored, err := store.GetProfile(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, 60, stored.CooldownSeconds)

	// Mutator errors abort the write
	boom := errors.New("boom")
	_, err = pm.Update(ctx, "node-1", func(p *types.CorrectionProfile) error {
		p.CooldownSeconds = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)
	stored, _ = store.GetProfile(ctx, "node-1")
	assert.Equal(t, 60, stored.CooldownSeconds)

	// Invalid results are rejected
	_, err = pm.Update(ctx, "node-1", func(p *types.CorrectionProfile) error {
		p.CorrectionBudget = -1
		return nil
	})
	assert.Error(t, err)
}

func TestProfileManagerWriteFailure(t *testing.T) {
	pm := NewProfileManager(failingProfiles{memory.New()}, nil)

	_, err := pm.GetOrCreate(context.Background(), "node-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestSpendBudgetClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pm := NewProfileManager(store, nil)

	_, err := pm.Update(ctx, "node-1", func(p *types.CorrectionProfile) error {
		p.CorrectionBudget = 1
		return nil
	})
	require.NoError(t, err)

	p, err := pm.SpendBudget(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CorrectionBudget)

	p, err = pm.SpendBudget(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CorrectionBudget)
}

func TestThaw(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newTestClock()
	pm := NewProfileManager(store, clock.Now)

	started := clock.Now()
	frozen, err := pm.Update(ctx, "node-1", func(p *types.CorrectionProfile) error {
		p.Metadata.FreezeActive = true
		p.Metadata.FreezeStarted = &started
		p.Metadata.FreezeDurationSeconds = 1800
		p.Metadata.FreezeReason = "CRITICAL anomaly: SCARINDEX_DROP"
		p.CorrectionBudget = 0
		return nil
	})
	require.NoError(t, err)

	// Still inside the window: nothing changes
	clock.Advance(10 * time.Minute)
	same, err := pm.Thaw(ctx, frozen)
	require.NoError(t, err)
	assert.True(t, same.Metadata.FreezeActive)
	assert.Equal(t, 0, same.CorrectionBudget)

	clock.Advance(30 * time.Minute)
	thawed, err := pm.Thaw(ctx, frozen)
	require.NoError(t, err)
	assert.False(t, thawed.Metadata.FreezeActive)
	assert.Nil(t, thawed.Metadata.FreezeStarted)
	assert.Empty(t, thawed.Metadata.FreezeReason)
	assert.Equal(t, types.DefaultCorrectionBudget, thawed.CorrectionBudget)
}

func TestSpendBudgetOpensWindow(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	pm := NewProfileManager(memory.New(), clock.Now)

	p, err := pm.SpendBudget(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, p.Metadata.BudgetWindowStarted)
	assert.Equal(t, start, *p.Metadata.BudgetWindowStarted)

	// Later spends stay in the same window
	clock.Advance(10 * time.Minute)
	p, err = pm.SpendBudget(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, start, *p.Metadata.BudgetWindowStarted)
	assert.Equal(t, types.DefaultCorrectionBudget-2, p.CorrectionBudget)
}

func TestRefillBudget(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	pm := NewProfileManager(memory.New(), clock.Now)

	_, err := pm.Update(ctx, "node-1", func(p *types.CorrectionProfile) error {
		p.CorrectionBudget = 1
		return nil
	})
	require.NoError(t, err)
	spent, err := pm.SpendBudget(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, 0, spent.CorrectionBudget)

	clock.Advance(59 * time.Minute)
	same, err := pm.RefillBudget(ctx, spent, time.Hour)
	require.NoError(t, err)
	assert.Same(t, spent, same)

	clock.Advance(time.Minute)
	refilled, err := pm.RefillBudget(ctx, spent, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultCorrectionBudget, refilled.CorrectionBudget)
	assert.Nil(t, refilled.Metadata.BudgetWindowStarted)

	// A full budget is never rewritten
	again, err := pm.RefillBudget(ctx, refilled, time.Hour)
	require.NoError(t, err)
	assert.Same(t, refilled, again)
}
