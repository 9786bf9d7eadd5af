package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/deduplication"
	"github.com/spiralos/guardian/internal/detection"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/storage/sqlite"
	"github.com/spiralos/guardian/internal/types"
)

func newSQLiteScanner(t *testing.T) (*Scanner, *sqlite.SQLiteStorage, *notify.Recorder) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gate, err := deduplication.NewGate(store, deduplication.DefaultConfig())
	require.NoError(t, err)

	recorder := &notify.Recorder{}
	s, err := New(&ScannerConfig{
		Store:      store,
		Detectors:  detection.NewSet(store, store, detection.WithClock(clock)),
		Thresholds: detection.DefaultThresholds(),
		Dedup:      gate,
		Notifier:   recorder,
		Now:        clock,
	})
	require.NoError(t, err)
	return s, store, recorder
}

func TestScanRunsToCompletionAfterCancel(t *testing.T) {
	s, store, recorder := newSQLiteScanner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.Scan(ctx, Request{NodeID: "silent-node"})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	result := report.Results[0]
	assert.Empty(t, result.DetectorErrors)
	require.Len(t, result.Inserted, 1)
	assert.Equal(t, types.AnomalyHeartbeatGap, result.Anomalies[0].AnomalyType)
	assert.Equal(t, types.SeverityCritical, result.Anomalies[0].Severity)

	stored, err := store.ListAnomalies(context.Background(), types.AnomalyFilter{NodeID: "silent-node"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.AnomalyActive, stored[0].Status)

	assert.Len(t, recorder.Of(notify.KindScanSummary), 1)
}

func TestScanAllRunsToCompletionAfterCancel(t *testing.T) {
	s, store, _ := newSQLiteScanner(t)
	require.NoError(t, store.RegisterNode(context.Background(), &types.Node{ID: "node-a", IsActive: true}))
	require.NoError(t, store.RegisterNode(context.Background(), &types.Node{ID: "node-b", IsActive: true}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.Scan(ctx, Request{ScanAll: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.NodesScanned)
	assert.Equal(t, 2, report.Summary.TotalAnomaliesInserted)
}
