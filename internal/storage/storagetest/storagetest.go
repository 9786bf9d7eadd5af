// Package storagetest holds a behavioural test suite shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// Opener returns a fresh, empty store for one subtest
type Opener func(t *testing.T) storage.Storage

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by open
func Run(t *testing.T, open Opener) {
	t.Run("Telemetry", func(t *testing.T) { testTelemetry(t, open(t)) })
	t.Run("Nodes", func(t *testing.T) { testNodes(t, open(t)) })
	t.Run("Coherence", func(t *testing.T) { testCoherence(t, open(t)) })
	t.Run("Anomalies", func(t *testing.T) { testAnomalies(t, open(t)) })
	t.Run("Resolution", func(t *testing.T) { testResolution(t, open(t)) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, open(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, open(t)) })
}

func testTelemetry(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	latest, err := s.GetLatestTelemetry(ctx, "node-1")
	require.NoError(t, err)
	assert.Nil(t, latest, "no telemetry should yield nil, nil")

	samples := []*types.TelemetrySample{
		{NodeID: "node-1", Timestamp: base, EventType: "pulse", Source: "a", AcheSignature: types.Float64(0.2), SovereignState: "STABLE"},
		{NodeID: "node-1", Timestamp: base.Add(time.Minute), EventType: "pulse", Source: "a", SovereignState: "DRIFT"},
		{NodeID: "node-1", Timestamp: base.Add(2 * time.Minute), EventType: "pulse", Source: "b", AcheSignature: types.Float64(0.7),
			Payload: map[string]interface{}{"reason": "test"}},
		{NodeID: "node-2", Timestamp: base.Add(3 * time.Minute), EventType: "pulse", Source: "a"},
	}
	for _, sample := range samples {
		require.NoError(t, s.InsertTelemetry(ctx, sample))
		assert.NotZero(t, sample.ID)
	}

	latest, err = s.GetLatestTelemetry(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Timestamp.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, "b", latest.Source)
	require.NotNil(t, latest.AcheSignature)
	assert.InDelta(t, 0.7, *latest.AcheSignature, 1e-9)
	assert.Nil(t, latest.HealthSignal)
	assert.Equal(t, "test", latest.Payload["reason"])

	all, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: "node-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.After(all[1].Timestamp), "results must be newest first")

	withAche, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: "node-1", RequireAche: true})
	require.NoError(t, err)
	assert.Len(t, withAche, 2)

	withState, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: "node-1", RequireState: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, withState, 1)
	assert.Equal(t, "DRIFT", withState[0].SovereignState)

	recent, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: "node-1", Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	distinct, err := s.CountDistinctStates(ctx, "node-1", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, distinct)

	distinct, err = s.CountDistinctStates(ctx, "node-1", base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, distinct)
}

func testNodes(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	node, err := s.GetNode(ctx, "bridge-a")
	require.NoError(t, err)
	assert.Nil(t, node)

	require.NoError(t, s.RegisterNode(ctx, &types.Node{ID: "bridge-b", Name: "B", IsActive: true}))
	require.NoError(t, s.RegisterNode(ctx, &types.Node{ID: "bridge-a", Name: "A", IsActive: true}))
	require.NoError(t, s.RegisterNode(ctx, &types.Node{ID: "bridge-c", Name: "C", IsActive: false}))

	active, err := s.ListActiveNodes(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "bridge-a", active[0].ID)
	assert.Equal(t, "bridge-b", active[1].ID)

	require.NoError(t, s.SetNodeActive(ctx, "bridge-b", false))
	active, err = s.ListActiveNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Re-registering updates the name but keeps the node
	require.NoError(t, s.RegisterNode(ctx, &types.Node{ID: "bridge-a", Name: "Alpha", IsActive: true}))
	node, err = s.GetNode(ctx, "bridge-a")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "Alpha", node.Name)

	err = s.SetNodeActive(ctx, "missing", true)
	assert.True(t, errors.Is(err, types.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testCoherence(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	reading, err := s.GetCoherence(ctx, "node-1")
	require.NoError(t, err)
	assert.Nil(t, reading)

	require.NoError(t, s.SetCoherence(ctx, &types.CoherenceReading{NodeID: "node-1", Value: 0.6, UpdatedAt: base}))
	require.NoError(t, s.SetCoherence(ctx, &types.CoherenceReading{NodeID: "node-1", Value: 0.4, UpdatedAt: base.Add(time.Minute)}))

	reading, err = s.GetCoherence(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, reading)
	assert.InDelta(t, 0.4, reading.Value, 1e-9)

	for i, v := range []float64{0.9, 0.8, 0.5} {
		entry := &types.CoherenceHistoryEntry{
			NodeID:    "node-1",
			Value:     v,
			Source:    "test",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.AppendCoherenceHistory(ctx, entry))
		assert.NotZero(t, entry.ID)
	}

	history, err := s.GetCoherenceHistory(ctx, "node-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.InDelta(t, 0.5, history[0].Value, 1e-9)
	assert.InDelta(t, 0.8, history[1].Value, 1e-9)
}

func newAnomaly(nodeID string, anomalyType types.AnomalyType, severity types.Severity, at time.Time) *types.Anomaly {
	return &types.Anomaly{
		NodeID:      nodeID,
		AnomalyType: anomalyType,
		Severity:    severity,
		Status:      types.AnomalyActive,
		Details:     map[string]interface{}{"reason": "test"},
		DetectedAt:  at,
	}
}

func testAnomalies(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	first := newAnomaly("node-1", types.AnomalyAcheSpike, types.SeverityHigh, base)
	require.NoError(t, s.InsertAnomaly(ctx, first))
	assert.NotEmpty(t, first.ID, "insert should assign an ID")

	second := newAnomaly("node-1", types.AnomalyHeartbeatGap, types.SeverityCritical, base.Add(time.Minute))
	require.NoError(t, s.InsertAnomaly(ctx, second))
	require.NoError(t, s.InsertAnomaly(ctx, newAnomaly("node-2", types.AnomalyAcheSpike, types.SeverityMedium, base)))

	got, err := s.GetAnomaly(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.AnomalyAcheSpike, got.AnomalyType)
	assert.Equal(t, "test", got.Details["reason"])
	assert.Nil(t, got.Resolution)

	missing, err := s.GetAnomaly(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	found, err := s.FindActiveAnomaly(ctx, "node-1", types.AnomalyAcheSpike, base.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	found, err = s.FindActiveAnomaly(ctx, "node-1", types.AnomalyAcheSpike, base.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, found, "anomalies before the window must not match")

	active := types.AnomalyActive
	list, err := s.ListAnomalies(ctx, types.AnomalyFilter{NodeID: "node-1", Status: &active})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "list must be newest first")

	heartbeat := types.AnomalyHeartbeatGap
	list, err = s.ListAnomalies(ctx, types.AnomalyFilter{AnomalyType: &heartbeat})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListAnomalies(ctx, types.AnomalyFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testResolution(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	a := newAnomaly("node-1", types.AnomalyScarIndexDrop, types.SeverityCritical, base)
	require.NoError(t, s.InsertAnomaly(ctx, a))

	resolution := &types.Resolution{
		ResolvedAt:     base.Add(time.Minute),
		ResolvedBy:     types.ResolverAutoRegulation,
		CorrectionType: types.CorrectionScarIndexRecovery,
	}
	require.NoError(t, s.ResolveAnomaly(ctx, a.ID, resolution))

	got, err := s.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.AnomalyResolved, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, types.CorrectionScarIndexRecovery, got.Resolution.CorrectionType)
	assert.Equal(t, types.ResolverAutoRegulation, got.Resolution.ResolvedBy)

	// A second resolution is refused and leaves the first one intact
	err = s.ResolveAnomaly(ctx, a.ID, &types.Resolution{
		ResolvedAt:     base.Add(time.Hour),
		ResolvedBy:     "someone-else",
		CorrectionType: types.CorrectionFreeze,
	})
	assert.True(t, errors.Is(err, types.ErrAlreadyResolved), "expected ErrAlreadyResolved, got %v", err)

	got, err = s.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CorrectionScarIndexRecovery, got.Resolution.CorrectionType)
	assert.True(t, got.Resolution.ResolvedAt.Equal(base.Add(time.Minute)))

	err = s.ResolveAnomaly(ctx, "does-not-exist", resolution)
	assert.True(t, errors.Is(err, types.ErrNotFound), "expected ErrNotFound, got %v", err)

	found, err := s.FindActiveAnomaly(ctx, "node-1", types.AnomalyScarIndexDrop, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, found, "resolved anomalies must not count as active")
}

func testProfiles(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	profile, err := s.GetProfile(ctx, "node-1")
	require.NoError(t, err)
	assert.Nil(t, profile)

	p := types.NewDefaultProfile("node-1", base)
	require.NoError(t, s.UpsertProfile(ctx, p))

	got, err := s.GetProfile(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100, got.CorrectionBudget)
	assert.Equal(t, 300, got.CooldownSeconds)
	assert.Equal(t, types.DefaultPreferredCorrections, got.PreferredCorrections)
	assert.True(t, got.Metadata.AutoCreated)

	started := base.Add(5 * time.Minute)
	got.CorrectionBudget = 0
	got.Metadata.FreezeActive = true
	got.Metadata.FreezeStarted = &started
	got.Metadata.FreezeDurationSeconds = 1800
	got.Metadata.FreezeReason = "CRITICAL anomaly: SCARINDEX_DROP"
	got.Metadata.TightenedThresholds = &types.TightenedThresholds{AcheThreshold: 0.7, EntropyThreshold: 0.12, ScarIndexThreshold: 0.45}
	require.NoError(t, s.UpsertProfile(ctx, got))

	again, err := s.GetProfile(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 0, again.CorrectionBudget)
	assert.True(t, again.Metadata.FreezeActive)
	require.NotNil(t, again.Metadata.FreezeStarted)
	assert.True(t, again.Metadata.FreezeStarted.Equal(started))
	assert.Equal(t, "CRITICAL anomaly: SCARINDEX_DROP", again.Metadata.FreezeReason)
	require.NotNil(t, again.Metadata.TightenedThresholds)
	assert.InDelta(t, 0.12, again.Metadata.TightenedThresholds.EntropyThreshold, 1e-9)
}

func testHistory(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	latest, err := s.GetLatestHistory(ctx, "node-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	delta := 0.3
	entries := []*types.RegulationHistoryEntry{
		{NodeID: "node-1", AnomalyID: "a1", CorrectionType: types.CorrectionAcheBuffer, Severity: types.SeverityHigh,
			Mode: types.ModeAuto, Success: true, ResultDetails: "ok", ExecutedAt: base},
		{NodeID: "node-1", AnomalyID: "a2", CorrectionType: types.CorrectionScarIndexRecovery, Severity: types.SeverityCritical,
			Mode: types.ModeManual, Success: true, CoherenceDelta: &delta, ExecutedAt: base.Add(time.Minute),
			Payload: map[string]interface{}{"anomaly_type": "SCARINDEX_DROP"}},
		{NodeID: "node-2", AnomalyID: "a3", CorrectionType: types.CorrectionNone, Mode: types.ModeAuto,
			Success: false, ResultDetails: "Cooldown period active", ExecutedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendHistory(ctx, e))
		assert.NotZero(t, e.ID)
	}

	latest, err = s.GetLatestHistory(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a2", latest.AnomalyID)
	assert.Equal(t, types.ModeManual, latest.Mode)
	assert.Equal(t, types.SeverityCritical, latest.Severity)
	require.NotNil(t, latest.CoherenceDelta)
	assert.InDelta(t, 0.3, *latest.CoherenceDelta, 1e-9)
	assert.Equal(t, "SCARINDEX_DROP", latest.Payload["anomaly_type"])

	all, err := s.ListHistory(ctx, types.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a3", all[0].AnomalyID)
	assert.False(t, all[0].Success)

	limited, err := s.ListHistory(ctx, types.HistoryFilter{NodeID: "node-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	applied, err := s.ListHistory(ctx, types.HistoryFilter{AppliedOnly: true})
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "a2", applied[0].AnomalyID)

	skippedOnly, err := s.ListHistory(ctx, types.HistoryFilter{NodeID: "node-2", AppliedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, skippedOnly)
}
