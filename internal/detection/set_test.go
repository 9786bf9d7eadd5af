package detection

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

func fixedClock() time.Time { return now }

func TestSetRunsAllDetectors(t *testing.T) {
	store := memory.New()
	set := NewSet(store, store, WithClock(fixedClock))

	// Silent node with a collapsed coherence value: heartbeat + scarindex
	require.NoError(t, store.SetCoherence(context.Background(), &types.CoherenceReading{NodeID: "node-1", Value: 0.1, UpdatedAt: now}))

	result := set.Run(context.Background(), "node-1", DefaultThresholds())
	assert.Empty(t, result.Errors)

	got := map[types.AnomalyType]types.Severity{}
	for _, a := range result.Anomalies {
		got[a.AnomalyType] = a.Severity
		assert.Equal(t, now, a.DetectedAt)
		assert.Equal(t, types.AnomalyActive, a.Status)
	}
	assert.Equal(t, types.SeverityCritical, got[types.AnomalyHeartbeatGap])
	assert.Equal(t, types.SeverityCritical, got[types.AnomalyScarIndexDrop])
	assert.Len(t, got, 2)
}

func TestSetIsolatesFailingDetector(t *testing.T) {
	store := memory.New()
	broken := failingCoherence{store}
	set := NewSet(store, broken, WithClock(fixedClock))

	result := set.Run(context.Background(), "node-1", DefaultThresholds())

	require.Contains(t, result.Errors, types.AnomalyScarIndexDrop)
	assert.True(t, errors.Is(result.Errors[types.AnomalyScarIndexDrop], errStoreDown))

	// Heartbeat still ran and found the silent node
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, types.AnomalyHeartbeatGap, result.Anomalies[0].AnomalyType)
}

type panickyDetector struct{}

func (panickyDetector) Type() types.AnomalyType { return types.AnomalyEntropySpike }

func (panickyDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	panic("boom")
}

type slowDetector struct{}

func (slowDetector) Type() types.AnomalyType { return types.AnomalyAcheSpike }

func (slowDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSetRecoversPanicsAndTimeouts(t *testing.T) {
	store := memory.New()
	set := NewSet(store, store,
		WithClock(fixedClock),
		WithTimeout(20*time.Millisecond),
		WithDetectors(panickyDetector{}, slowDetector{}, &HeartbeatDetector{Telemetry: store}),
	)

	result := set.Run(context.Background(), "node-1", DefaultThresholds())
	assert.Len(t, result.Errors, 2)
	assert.True(t, errors.Is(result.Errors[types.AnomalyAcheSpike], context.DeadlineExceeded))
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, types.AnomalyHeartbeatGap, result.Anomalies[0].AnomalyType)
}
