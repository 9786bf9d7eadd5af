package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/config"
	"github.com/spiralos/guardian/internal/scanner"
	"github.com/spiralos/guardian/internal/storage/memory"
	"github.com/spiralos/guardian/internal/types"
)

func TestEngineScanRegulatesCollapsedNode(t *testing.T) {
	ctx := context.Background()
	testStore := memory.New()

	require.NoError(t, testStore.RegisterNode(ctx, &types.Node{ID: "node-1", IsActive: true, CreatedAt: time.Now()}))
	require.NoError(t, testStore.SetCoherence(ctx, &types.CoherenceReading{NodeID: "node-1", Value: 0.1, UpdatedAt: time.Now()}))

	eng, err := newEngine(config.Default(), testStore)
	require.NoError(t, err)

	report, err := eng.scanner.Scan(ctx, scanner.Request{ScanAll: true})
	require.NoError(t, err)
	eng.Close()

	assert.Equal(t, 1, report.Summary.NodesScanned)
	assert.Equal(t, 2, report.Summary.TotalAnomaliesInserted)
	assert.True(t, report.Summary.AutoRegulationTriggered)

	// Silent node with collapsed coherence: both CRITICAL anomalies corrected and resolved
	active := types.AnomalyActive
	remaining, err := testStore.ListAnomalies(ctx, types.AnomalyFilter{NodeID: "node-1", Status: &active})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	reading, err := testStore.GetCoherence(ctx, "node-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, reading.Value, 1e-9)

	profile, err := testStore.GetProfile(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.True(t, profile.Metadata.FreezeActive)
	assert.Equal(t, 0, profile.CorrectionBudget)

	history, err := testStore.ListHistory(ctx, types.HistoryFilter{NodeID: "node-1"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
