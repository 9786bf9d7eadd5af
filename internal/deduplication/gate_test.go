package deduplication

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

var errLookup = errors.New("anomaly store unreachable")

type failingStore struct {
	*memory.Storage
}

func (failingStore) FindActiveAnomaly(ctx context.Context, nodeID string, anomalyType types.AnomalyType, since time.Time) (*types.Anomaly, error) {
	return nil, errLookup
}

func newAnomaly(nodeID string, anomalyType types.AnomalyType, detectedAt time.Time) *types.Anomaly {
	return &types.Anomaly{
		NodeID:      nodeID,
		AnomalyType: anomalyType,
		Severity:    types.SeverityHigh,
		Status:      types.AnomalyActive,
		Details:     map[string]interface{}{},
		DetectedAt:  detectedAt,
	}
}

func TestNewGateValidation(t *testing.T) {
	_, err := NewGate(nil, DefaultConfig())
	assert.ErrorContains(t, err, "store cannot be nil")

	cfg := DefaultConfig()
	cfg.Window = 0
	_, err = NewGate(memory.New(), cfg)
	assert.ErrorContains(t, err, "invalid config")

	gate, err := NewGate(memory.New(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), gate.Config())
}

func TestCheckDuplicateWithinWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate, err := NewGate(store, DefaultConfig())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := newAnomaly("node-1", types.AnomalyAcheSpike, now.Add(-30*time.Minute))
	require.NoError(t, store.InsertAnomaly(ctx, existing))

	decision, err := gate.CheckDuplicate(ctx, newAnomaly("node-1", types.AnomalyAcheSpike, now))
	require.NoError(t, err)
	assert.True(t, decision.IsDuplicate)
	assert.Equal(t, existing.ID, decision.DuplicateOf)
	assert.NoError(t, decision.Validate())

	// Different type, different node: not duplicates
	decision, err = gate.CheckDuplicate(ctx, newAnomaly("node-1", types.AnomalyHeartbeatGap, now))
	require.NoError(t, err)
	assert.False(t, decision.IsDuplicate)

	decision, err = gate.CheckDuplicate(ctx, newAnomaly("node-2", types.AnomalyAcheSpike, now))
	require.NoError(t, err)
	assert.False(t, decision.IsDuplicate)
}

func TestCheckDuplicateOutsideWindowOrResolved(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate, err := NewGate(store, DefaultConfig())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertAnomaly(ctx, newAnomaly("node-1", types.AnomalyAcheSpike, now.Add(-61*time.Minute))))

	resolved := newAnomaly("node-1", types.AnomalyAcheSpike, now.Add(-5*time.Minute))
	require.NoError(t, store.InsertAnomaly(ctx, resolved))
	require.NoError(t, store.ResolveAnomaly(ctx, resolved.ID, &types.Resolution{
		ResolvedAt:     now.Add(-time.Minute),
		ResolvedBy:     types.ResolverAutoRegulation,
		CorrectionType: types.CorrectionAcheBuffer,
	}))

	decision, err := gate.CheckDuplicate(ctx, newAnomaly("node-1", types.AnomalyAcheSpike, now))
	require.NoError(t, err)
	assert.False(t, decision.IsDuplicate, "stale and resolved anomalies do not suppress")
}

func TestCheckDuplicateRejectsInvalid(t *testing.T) {
	gate, err := NewGate(memory.New(), DefaultConfig())
	require.NoError(t, err)

	_, err = gate.CheckDuplicate(context.Background(), nil)
	assert.Error(t, err)

	_, err = gate.CheckDuplicate(context.Background(), &types.Anomaly{NodeID: "node-1", AnomalyType: "BOGUS"})
	assert.ErrorContains(t, err, "invalid candidate anomaly")
}

func TestCheckDuplicateFailOpen(t *testing.T) {
	broken := failingStore{memory.New()}

	gate, err := NewGate(broken, DefaultConfig())
	require.NoError(t, err)
	decision, err := gate.CheckDuplicate(context.Background(), newAnomaly("node-1", types.AnomalyAcheSpike, time.Now()))
	require.NoError(t, err)
	assert.False(t, decision.IsDuplicate)
	assert.True(t, decision.LookupFailed)

	cfg := DefaultConfig()
	cfg.FailOpen = false
	gate, err = NewGate(broken, cfg)
	require.NoError(t, err)
	_, err = gate.CheckDuplicate(context.Background(), newAnomaly("node-1", types.AnomalyAcheSpike, time.Now()))
	assert.ErrorIs(t, err, errLookup)
}

// Two detections of the same (node, type) in a row: exactly one record reaches ACTIVE
func TestSecondDetectionProducesNoRow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate, err := NewGate(store, DefaultConfig())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{now, now.Add(5 * time.Minute)} {
		result, err := gate.DeduplicateBatch(ctx, []*types.Anomaly{newAnomaly("node-1", types.AnomalyScarIndexDrop, at)})
		require.NoError(t, err)
		for _, a := range result.Unique {
			require.NoError(t, store.InsertAnomaly(ctx, a))
		}
	}

	active := types.AnomalyActive
	rows, err := store.ListAnomalies(ctx, types.AnomalyFilter{NodeID: "node-1", Status: &active})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDeduplicateBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate, err := NewGate(store, DefaultConfig())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := newAnomaly("node-1", types.AnomalyHeartbeatGap, now.Add(-10*time.Minute))
	require.NoError(t, store.InsertAnomaly(ctx, existing))

	candidates := []*types.Anomaly{
		newAnomaly("node-1", types.AnomalyScarIndexDrop, now), // low value
		newAnomaly("node-1", types.AnomalyScarIndexDrop, now), // sharp drop, same scan
		newAnomaly("node-1", types.AnomalyHeartbeatGap, now),  // already active
		newAnomaly("node-1", types.AnomalyEntropySpike, now),
	}

	result, err := gate.DeduplicateBatch(ctx, candidates)
	require.NoError(t, err)
	require.NoError(t, result.Validate())

	assert.Equal(t, []*types.Anomaly{candidates[0], candidates[3]}, result.Unique)
	assert.Equal(t, map[int]int{1: 0}, result.WithinBatchDuplicates)
	assert.Equal(t, map[int]string{2: existing.ID}, result.DuplicatePairs)
	assert.Equal(t, 2, result.Stats.Suppressed())
	assert.Equal(t, 3, result.Stats.LookupsMade)
}

func TestDeduplicateBatchWithinBatchDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableWithinBatchDedup = false
	gate, err := NewGate(memory.New(), cfg)
	require.NoError(t, err)

	now := time.Now()
	result, err := gate.DeduplicateBatch(context.Background(), []*types.Anomaly{
		newAnomaly("node-1", types.AnomalyScarIndexDrop, now),
		newAnomaly("node-1", types.AnomalyScarIndexDrop, now),
	})
	require.NoError(t, err)
	assert.Len(t, result.Unique, 2)
	assert.Empty(t, result.WithinBatchDuplicates)
}

func TestDeduplicateBatchFailClosedDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailOpen = false
	gate, err := NewGate(failingStore{memory.New()}, cfg)
	require.NoError(t, err)

	result, err := gate.DeduplicateBatch(context.Background(), []*types.Anomaly{
		newAnomaly("node-1", types.AnomalyAcheSpike, time.Now()),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Unique)
	assert.Equal(t, 1, result.Stats.DroppedCount)
	assert.Equal(t, 1, result.Stats.LookupFailures)
	assert.NoError(t, result.Validate())
}

func TestDeduplicateBatchEmptyAndInvalid(t *testing.T) {
	gate, err := NewGate(memory.New(), DefaultConfig())
	require.NoError(t, err)

	result, err := gate.DeduplicateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Unique)
	assert.Equal(t, 0, result.Stats.TotalCandidates)

	_, err = gate.DeduplicateBatch(context.Background(), []*types.Anomaly{nil})
	assert.ErrorContains(t, err, "index 0 is nil")
}
