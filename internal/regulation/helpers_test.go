package regulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/metrics"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/storage/memory"
	"github.com/spiralos/guardian/internal/types"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store unreachable")

// testClock is a manually advanced time source
type testClock struct {
	t time.Time
}

func newTestClock() *testClock { return &testClock{t: start} }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store    *memory.Storage
	clock    *testClock
	notifier *notify.Recorder
	metrics  *metrics.Metrics
	disp     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		clock:    newTestClock(),
		notifier: &notify.Recorder{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	disp, err := NewDispatcher(&DispatcherConfig{
		Store:    f.store,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	f.disp = disp
	return f
}

// insertAnomaly persists an ACTIVE anomaly detected at the current test time
func (f *fixture) insertAnomaly(t *testing.T, nodeID string, anomalyType types.AnomalyType, severity types.Severity) *types.Anomaly {
	t.Helper()
	a := &types.Anomaly{
		NodeID:      nodeID,
		AnomalyType: anomalyType,
		Severity:    severity,
		Status:      types.AnomalyActive,
		Details:     map[string]interface{}{"reason": "test"},
		DetectedAt:  f.clock.Now(),
	}
	require.NoError(t, f.store.InsertAnomaly(context.Background(), a))
	return a
}

func (f *fixture) profile(t *testing.T, nodeID string) *types.CorrectionProfile {
	t.Helper()
	p, err := f.store.GetProfile(context.Background(), nodeID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) history(t *testing.T, nodeID string) []*types.RegulationHistoryEntry {
	t.Helper()
	entries, err := f.store.ListHistory(context.Background(), types.HistoryFilter{NodeID: nodeID})
	require.NoError(t, err)
	return entries
}

// failingProfiles rejects every profile write
type failingProfiles struct {
	*memory.Storage
}

func (failingProfiles) UpsertProfile(ctx context.Context, p *types.CorrectionProfile) error {
	return errStoreDown
}

// failingHistory rejects every history read
type failingHistory struct {
	*memory.Storage
}

func (failingHistory) GetLatestHistory(ctx context.Context, nodeID string) (*types.RegulationHistoryEntry, error) {
	return nil, errStoreDown
}

func (failingHistory) ListHistory(ctx context.Context, filter types.HistoryFilter) ([]*types.RegulationHistoryEntry, error) {
	return nil, errStoreDown
}
