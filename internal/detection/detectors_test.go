package detection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/storage/memory"
	"github.com/spiralos/guardian/internal/types"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func insertSample(t *testing.T, s *memory.Storage, sample types.TelemetrySample) {
	t.Helper()
	if sample.NodeID == "" {
		sample.NodeID = "node-1"
	}
	if sample.EventType == "" {
		sample.EventType = "pulse"
	}
	if sample.Source == "" {
		sample.Source = "bridge"
	}
	require.NoError(t, s.InsertTelemetry(context.Background(), &sample))
}

func TestHeartbeatNoTelemetryIsCritical(t *testing.T) {
	store := memory.New()
	d := &HeartbeatDetector{Telemetry: store}

	found, err := d.Detect(context.Background(), "never-seen", DefaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, types.AnomalyHeartbeatGap, found[0].AnomalyType)
	assert.Equal(t, types.SeverityCritical, found[0].Severity)
	assert.Equal(t, "No telemetry events found", found[0].Details["reason"])
}

func TestHeartbeatGapSeverity(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		want     bool
		severity types.Severity
	}{
		{"fresh", 2 * time.Minute, false, ""},
		{"exactly at threshold", 10 * time.Minute, false, ""},
		{"high", 15 * time.Minute, true, types.SeverityHigh},
		{"exactly at critical", 30 * time.Minute, true, types.SeverityHigh},
		{"critical", 45 * time.Minute, true, types.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-tt.age)})

			found, err := (&HeartbeatDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
			require.NoError(t, err)
			if !tt.want {
				assert.Empty(t, found)
				return
			}
			require.Len(t, found, 1)
			assert.Equal(t, tt.severity, found[0].Severity)
			assert.InDelta(t, tt.age.Minutes(), found[0].Details["gap_minutes"], 0.05)
		})
	}
}

func TestAcheSpike(t *testing.T) {
	tests := []struct {
		name     string
		previous float64
		latest   float64
		want     bool
		severity types.Severity
	}{
		{"calm", 0.30, 0.35, false, ""},
		{"high latest with no delta", 0.82, 0.85, true, types.SeverityHigh},
		{"critical latest", 0.89, 0.95, true, types.SeverityCritical},
		{"large jump below high", 0.20, 0.50, true, types.SeverityHigh},
		{"large drop fires too", 0.75, 0.40, true, types.SeverityHigh},
		{"exactly at high", 0.70, 0.80, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-2 * time.Minute), AcheSignature: types.Float64(tt.previous)})
			insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-time.Minute), AcheSignature: types.Float64(tt.latest)})
			// Samples without ache are ignored
			insertSample(t, store, types.TelemetrySample{Timestamp: now})

			found, err := (&AcheDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
			require.NoError(t, err)
			if !tt.want {
				assert.Empty(t, found)
				return
			}
			require.Len(t, found, 1)
			assert.Equal(t, tt.severity, found[0].Severity)
			assert.Equal(t, tt.latest, found[0].Details["current_ache"])
			assert.Equal(t, tt.previous, found[0].Details["previous_ache"])
		})
	}
}

// TestAcheSpikeProperty sweeps the ache grid: latest > 0.80 always fires,
// and |delta| > 0.25 fires even when latest <= 0.80.
func TestAcheSpikeProperty(t *testing.T) {
	th := DefaultThresholds()
	for latestStep := 0; latestStep <= 20; latestStep++ {
		for prevStep := 0; prevStep <= 20; prevStep++ {
			latest := float64(latestStep) * 0.05
			previous := float64(prevStep) * 0.05

			store := memory.New()
			insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-2 * time.Minute), AcheSignature: types.Float64(previous)})
			insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-time.Minute), AcheSignature: types.Float64(latest)})

			found, err := (&AcheDetector{Telemetry: store}).Detect(context.Background(), "node-1", th, now)
			require.NoError(t, err)

			delta := latest - previous
			if delta < 0 {
				delta = -delta
			}
			want := latest > th.AcheHigh || delta > th.AcheDelta
			assert.Equal(t, want, len(found) == 1, "latest=%.2f previous=%.2f", latest, previous)
		}
	}
}

func TestAcheSpikeNeedsTwoSamples(t *testing.T) {
	store := memory.New()
	insertSample(t, store, types.TelemetrySample{Timestamp: now, AcheSignature: types.Float64(0.99)})

	found, err := (&AcheDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func setCoherence(t *testing.T, s *memory.Storage, current float64, history ...float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SetCoherence(ctx, &types.CoherenceReading{NodeID: "node-1", Value: current, UpdatedAt: now}))
	// history is given oldest first
	for i, v := range history {
		require.NoError(t, s.AppendCoherenceHistory(ctx, &types.CoherenceHistoryEntry{
			NodeID:    "node-1",
			Value:     v,
			Timestamp: now.Add(time.Duration(i-len(history)) * time.Minute),
		}))
	}
}

func TestScarIndexLowCritical(t *testing.T) {
	store := memory.New()
	setCoherence(t, store, 0.20)

	found, err := (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, types.AnomalyScarIndexDrop, found[0].AnomalyType)
	assert.Equal(t, types.SeverityCritical, found[0].Severity)
	assert.Equal(t, "ScarIndex below threshold", found[0].Details["reason"])
}

func TestScarIndexBothChecksFire(t *testing.T) {
	store := memory.New()
	// previous (history[1], newest first) = 0.70, current 0.35: low (HIGH) and a 50% drop (CRITICAL)
	setCoherence(t, store, 0.35, 0.70, 0.35)

	found, err := (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, types.SeverityHigh, found[0].Severity)
	assert.Equal(t, types.SeverityCritical, found[1].Severity)
	assert.Equal(t, 50.0, found[1].Details["drop_percent"])
}

func TestScarIndexDropOnly(t *testing.T) {
	store := memory.New()
	setCoherence(t, store, 0.60, 0.80, 0.60)

	found, err := (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, types.SeverityHigh, found[0].Severity)
	assert.Equal(t, 25.0, found[0].Details["drop_percent"])
}

func TestScarIndexHealthyOrUnknown(t *testing.T) {
	store := memory.New()
	found, err := (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, found, "no coherence reading means no verdict")

	setCoherence(t, store, 0.75, 0.78, 0.75)
	found, err = (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSovereigntyInstability(t *testing.T) {
	tests := []struct {
		name     string
		states   []string
		want     bool
		severity types.Severity
	}{
		{"single sample", []string{"A"}, false, ""},
		{"stable", []string{"A", "A", "A", "B"}, false, ""},
		{"three changes", []string{"A", "B", "C", "D"}, true, types.SeverityMedium},
		{"five changes is still medium", []string{"A", "B", "C", "D", "E", "F"}, true, types.SeverityMedium},
		{"six changes", []string{"A", "B", "C", "D", "E", "F", "G"}, true, types.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			for i, state := range tt.states {
				insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-time.Duration(i) * time.Minute), SovereignState: state})
			}
			// Outside the window: ignored
			insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-2 * time.Hour), SovereignState: "ANCIENT"})

			found, err := (&SovereigntyDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
			require.NoError(t, err)
			if !tt.want {
				assert.Empty(t, found)
				return
			}
			require.Len(t, found, 1)
			assert.Equal(t, tt.severity, found[0].Severity)
			assert.Equal(t, len(tt.states), found[0].Details["unique_states"])
			assert.Equal(t, 60, found[0].Details["window_minutes"])
		})
	}
}

func TestEntropyIdenticalSamplesIsZero(t *testing.T) {
	store := memory.New()
	for i := 0; i < 20; i++ {
		insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-time.Duration(i) * time.Second)})
	}

	samples, err := store.QueryTelemetry(context.Background(), types.TelemetryQuery{NodeID: "node-1", Limit: 20})
	require.NoError(t, err)
	normalized, patterns := NormalizedEntropy(samples)
	assert.InDelta(t, 0.0, normalized, 1e-12)
	assert.Equal(t, 1, patterns)

	found, err := (&EntropyDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestEntropySpike(t *testing.T) {
	store := memory.New()
	// 20 samples spread over 4 patterns: entropy 2 bits / log2(20) ~ 0.463
	for i := 0; i < 20; i++ {
		insertSample(t, store, types.TelemetrySample{
			Timestamp: now.Add(-time.Duration(i) * time.Second),
			EventType: fmt.Sprintf("event-%d", i%4),
		})
	}

	found, err := (&EntropyDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, types.SeverityHigh, found[0].Severity)
	assert.Equal(t, 4, found[0].Details["unique_patterns"])
	assert.InDelta(t, 0.463, found[0].Details["entropy"], 0.001)
}

func TestEntropyNeedsMinimumSamples(t *testing.T) {
	store := memory.New()
	for i := 0; i < 9; i++ {
		insertSample(t, store, types.TelemetrySample{Timestamp: now.Add(-time.Duration(i) * time.Second), EventType: fmt.Sprintf("e%d", i)})
	}

	found, err := (&EntropyDetector{Telemetry: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestThresholdOverrides(t *testing.T) {
	th := DefaultThresholds().WithOverrides(&types.TightenedThresholds{
		AcheThreshold:      0.70,
		EntropyThreshold:   0.12,
		ScarIndexThreshold: 0.45,
	})
	assert.Equal(t, 0.70, th.AcheHigh)
	assert.Equal(t, 0.12, th.EntropyThreshold)
	assert.Equal(t, 0.45, th.ScarIndexLow)
	assert.NoError(t, th.Validate())

	// The defaults are unaffected
	assert.Equal(t, 0.80, DefaultThresholds().AcheHigh)
	assert.Equal(t, DefaultThresholds(), DefaultThresholds().WithOverrides(nil))

	store := memory.New()
	setCoherence(t, store, 0.42)
	found, err := (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", th, now)
	require.NoError(t, err)
	require.Len(t, found, 1, "0.42 is below the tightened 0.45 floor")

	found, err = (&ScarIndexDetector{Coherence: store}).Detect(context.Background(), "node-1", DefaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, found, "0.42 is above the default 0.40 floor")
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	th := DefaultThresholds()
	th.AcheHigh = 1.5
	assert.Error(t, th.Validate())

	th = DefaultThresholds()
	th.HeartbeatCritical = time.Minute
	assert.Error(t, th.Validate())

	th = DefaultThresholds()
	th.EntropyWindow = 5
	assert.Error(t, th.Validate())
}

func TestLoadThresholdsFromEnv(t *testing.T) {
	t.Setenv("GUARDIAN_DETECT_HEARTBEAT_GAP", "5m")
	t.Setenv("GUARDIAN_DETECT_ACHE_HIGH", "0.75")

	th := LoadThresholdsFromEnv()
	assert.Equal(t, 5*time.Minute, th.HeartbeatGap)
	assert.Equal(t, 0.75, th.AcheHigh)

	t.Setenv("GUARDIAN_DETECT_ACHE_HIGH", "7")
	assert.Equal(t, DefaultThresholds(), LoadThresholdsFromEnv(), "invalid env falls back to defaults")
}

var errStoreDown = errors.New("store unreachable")

type failingCoherence struct {
	*memory.Storage
}

func (f failingCoherence) GetCoherence(ctx context.Context, nodeID string) (*types.CoherenceReading, error) {
	return nil, errStoreDown
}
