package regulation

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/types"
)

func newTestRegulator(f *fixture) *Regulator {
	return NewRegulator(f.store, f.disp, f.notifier, f.metrics)
}

func TestRequestValidate(t *testing.T) {
	req := Request{}
	assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)

	req = Request{NodeID: "node-1"}
	require.NoError(t, req.Validate())
	assert.Equal(t, types.ModeAuto, req.Mode)

	req = Request{AnomalyID: "a1", Mode: "LATER"}
	assert.Error(t, req.Validate())
}

func TestRegulateUnknownAnomaly(t *testing.T) {
	f := newFixture(t)

	_, err := newTestRegulator(f).Regulate(context.Background(), Request{AnomalyID: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRegulateResolvedAnomalyIsNothingToDo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.insertAnomaly(t, "node-1", types.AnomalyHeartbeatGap, types.SeverityHigh)
	require.NoError(t, f.store.ResolveAnomaly(ctx, a.ID, &types.Resolution{
		ResolvedAt: start, ResolvedBy: types.ResolverAutoRegulation, CorrectionType: types.CorrectionHeartbeat,
	}))

	report, err := newTestRegulator(f).Regulate(ctx, Request{AnomalyID: a.ID})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, "No active anomalies to process", report.Message)
	assert.Empty(t, report.Corrections)
	assert.Nil(t, report.Summary)
	assert.Empty(t, f.notifier.Sent())
	assert.Empty(t, f.history(t, "node-1"))
}

func TestRegulateSingleAnomaly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.insertAnomaly(t, "node-1", types.AnomalyEntropySpike, types.SeverityMedium)

	report, err := newTestRegulator(f).Regulate(ctx, Request{AnomalyID: a.ID, Mode: types.ModeManual})
	require.NoError(t, err)
	require.Len(t, report.Corrections, 1)

	c := report.Corrections[0]
	assert.Equal(t, a.ID, c.AnomalyID)
	assert.Equal(t, "node-1", c.NodeID)
	assert.Equal(t, types.CorrectionEntropy, c.Result.CorrectionType)
	assert.True(t, c.Result.Success)
	assert.True(t, c.Resolved)
	assert.Equal(t, &Summary{Total: 1, Successful: 1}, report.Summary)
	assert.Equal(t, "Processed 1 anomaly(ies)", report.Message)

	history := f.history(t, "node-1")
	require.Len(t, history, 1)
	assert.Equal(t, types.ModeManual, history[0].Mode)
}

func TestRegulateNodeOrdersBySeverityThenAge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetCoherence(ctx, &types.CoherenceReading{NodeID: "node-1", Value: 0.2, UpdatedAt: start}))

	sovereignty := f.insertAnomaly(t, "node-1", types.AnomalySovereigntyInstability, types.SeverityMedium)
	f.clock.Advance(time.Minute)
	scar := f.insertAnomaly(t, "node-1", types.AnomalyScarIndexDrop, types.SeverityCritical)
	f.clock.Advance(time.Minute)
	ache := f.insertAnomaly(t, "node-1", types.AnomalyAcheSpike, types.SeverityHigh)
	f.clock.Advance(time.Minute)
	heartbeat := f.insertAnomaly(t, "node-1", types.AnomalyHeartbeatGap, types.SeverityCritical)
	f.insertAnomaly(t, "node-2", types.AnomalyHeartbeatGap, types.SeverityCritical)

	report, err := newTestRegulator(f).Regulate(ctx, Request{NodeID: "node-1"})
	require.NoError(t, err)
	require.Len(t, report.Corrections, 4)

	var order []string
	for _, c := range report.Corrections {
		order = append(order, c.AnomalyID)
	}
	assert.Equal(t, []string{scar.ID, heartbeat.ID, ache.ID, sovereignty.ID}, order)

	// The first CRITICAL success freezes the node; non-critical work is then refused
	assert.True(t, report.Corrections[0].FreezeApplied)
	assert.True(t, report.Corrections[1].Result.Success)
	assert.True(t, report.Corrections[2].Skipped)
	assert.Equal(t, ReasonFrozen, report.Corrections[2].Result.Details)
	assert.True(t, report.Corrections[3].Skipped)
	assert.Equal(t, &Summary{Total: 4, Successful: 2, Failed: 2}, report.Summary)

	summaries := f.notifier.Of(notify.KindRegulationSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Processed 4 Anomaly(ies)", summaries[0].Title)
	assert.Equal(t, notify.LevelWarning, summaries[0].Level)

	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveRegulations))
}

func TestRegulateNodeWithoutAnomalies(t *testing.T) {
	f := newFixture(t)

	report, err := newTestRegulator(f).Regulate(context.Background(), Request{NodeID: "quiet"})
	require.NoError(t, err)
	assert.Equal(t, "No active anomalies to process", report.Message)
	assert.NotNil(t, report.Corrections)
}

func TestSortForRegulation(t *testing.T) {
	mk := func(id string, sev types.Severity, age time.Duration) *types.Anomaly {
		return &types.Anomaly{ID: id, Severity: sev, DetectedAt: start.Add(-age)}
	}
	anomalies := []*types.Anomaly{
		mk("medium-old", types.SeverityMedium, 3*time.Hour),
		mk("high-new", types.SeverityHigh, time.Minute),
		mk("critical-new", types.SeverityCritical, time.Minute),
		mk("high-old", types.SeverityHigh, time.Hour),
		mk("critical-old", types.SeverityCritical, 2*time.Hour),
	}

	SortForRegulation(anomalies)

	var ids []string
	for _, a := range anomalies {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"critical-old", "critical-new", "high-old", "high-new", "medium-old"}, ids)
}
