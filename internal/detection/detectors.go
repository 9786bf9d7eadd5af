package detection

import (
	"context"
	"math"
	"time"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// Detector evaluates one anomaly class for a node.
// A nil/empty result means nothing was found; an error means the verdict is unknown.
type Detector interface {
	Type() types.AnomalyType
	Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error)
}

func newAnomaly(nodeID string, anomalyType types.AnomalyType, severity types.Severity, now time.Time, details map[string]interface{}) *types.Anomaly {
	return &types.Anomaly{
		NodeID:      nodeID,
		AnomalyType: anomalyType,
		Severity:    severity,
		Status:      types.AnomalyActive,
		Details:     details,
		DetectedAt:  now,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// HeartbeatDetector reports nodes whose latest telemetry is too old (or missing)
type HeartbeatDetector struct {
	Telemetry storage.TelemetryStore
}

func (d *HeartbeatDetector) Type() types.AnomalyType { return types.AnomalyHeartbeatGap }

func (d *HeartbeatDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	latest, err := d.Telemetry.GetLatestTelemetry(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	thresholdMinutes := th.HeartbeatGap.Minutes()
	if latest == nil {
		return []*types.Anomaly{newAnomaly(nodeID, types.AnomalyHeartbeatGap, types.SeverityCritical, now, map[string]interface{}{
			"reason":            "No telemetry events found",
			"threshold_minutes": thresholdMinutes,
		})}, nil
	}

	gap := now.Sub(latest.Timestamp)
	if gap <= th.HeartbeatGap {
		return nil, nil
	}

	severity := types.SeverityHigh
	if gap > th.HeartbeatCritical {
		severity = types.SeverityCritical
	}
	return []*types.Anomaly{newAnomaly(nodeID, types.AnomalyHeartbeatGap, severity, now, map[string]interface{}{
		"last_telemetry":    latest.Timestamp.UTC().Format(time.RFC3339),
		"gap_minutes":       round(gap.Minutes(), 1),
		"threshold_minutes": thresholdMinutes,
	})}, nil
}

// AcheDetector reports a high latest ache signature or a sharp jump between the two latest
type AcheDetector struct {
	Telemetry storage.TelemetryStore
}

func (d *AcheDetector) Type() types.AnomalyType { return types.AnomalyAcheSpike }

func (d *AcheDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	samples, err := d.Telemetry.QueryTelemetry(ctx, types.TelemetryQuery{
		NodeID:      nodeID,
		Limit:       th.AcheWindow,
		RequireAche: true,
	})
	if err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return nil, nil
	}

	latest := *samples[0].AcheSignature
	previous := *samples[1].AcheSignature
	delta := math.Abs(latest - previous)

	if latest <= th.AcheHigh && delta <= th.AcheDelta {
		return nil, nil
	}

	severity := types.SeverityHigh
	if latest > th.AcheCritical {
		severity = types.SeverityCritical
	}
	return []*types.Anomaly{newAnomaly(nodeID, types.AnomalyAcheSpike, severity, now, map[string]interface{}{
		"current_ache":    latest,
		"previous_ache":   previous,
		"delta":           delta,
		"threshold_value": th.AcheHigh,
		"threshold_delta": th.AcheDelta,
	})}, nil
}

// ScarIndexDetector reports a low coherence value and, independently, a sharp relative drop.
// Both findings share the SCARINDEX_DROP type and may be returned together.
type ScarIndexDetector struct {
	Coherence storage.CoherenceStore
}

func (d *ScarIndexDetector) Type() types.AnomalyType { return types.AnomalyScarIndexDrop }

func (d *ScarIndexDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	current, err := d.Coherence.GetCoherence(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	var found []*types.Anomaly
	value := current.Value

	if value < th.ScarIndexLow {
		severity := types.SeverityHigh
		if value < th.ScarIndexCritical {
			severity = types.SeverityCritical
		}
		found = append(found, newAnomaly(nodeID, types.AnomalyScarIndexDrop, severity, now, map[string]interface{}{
			"current_scarindex": value,
			"threshold":         th.ScarIndexLow,
			"reason":            "ScarIndex below threshold",
		}))
	}

	history, err := d.Coherence.GetCoherenceHistory(ctx, nodeID, th.ScarIndexHistoryWindow)
	if err != nil {
		// The low-value finding stands on its own
		if len(found) > 0 {
			return found, nil
		}
		return nil, err
	}
	if len(history) < 2 {
		return found, nil
	}

	previous := history[1].Value
	if previous <= 0 {
		return found, nil
	}
	dropPercent := (previous - value) / previous * 100
	if dropPercent > th.ScarIndexDropPercent {
		severity := types.SeverityHigh
		if dropPercent > th.ScarIndexDropCritical {
			severity = types.SeverityCritical
		}
		found = append(found, newAnomaly(nodeID, types.AnomalyScarIndexDrop, severity, now, map[string]interface{}{
			"current_scarindex":  value,
			"previous_scarindex": previous,
			"drop_percent":       round(dropPercent, 1),
			"threshold_percent":  th.ScarIndexDropPercent,
			"reason":             "ScarIndex dropped sharply",
		}))
	}

	return found, nil
}

// SovereigntyDetector reports nodes cycling through too many state labels within the window
type SovereigntyDetector struct {
	Telemetry storage.TelemetryStore
}

func (d *SovereigntyDetector) Type() types.AnomalyType { return types.AnomalySovereigntyInstability }

func (d *SovereigntyDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	since := now.Add(-th.SovereigntyWindow)
	samples, err := d.Telemetry.QueryTelemetry(ctx, types.TelemetryQuery{
		NodeID:       nodeID,
		Since:        since,
		RequireState: true,
		Limit:        2,
	})
	if err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return nil, nil
	}

	unique, err := d.Telemetry.CountDistinctStates(ctx, nodeID, since)
	if err != nil {
		return nil, err
	}
	changeCount := unique - 1
	if changeCount < th.SovereigntyChanges {
		return nil, nil
	}

	severity := types.SeverityMedium
	if changeCount > th.SovereigntyCritical {
		severity = types.SeverityCritical
	}
	return []*types.Anomaly{newAnomaly(nodeID, types.AnomalySovereigntyInstability, severity, now, map[string]interface{}{
		"changes_per_hour": changeCount,
		"threshold":        th.SovereigntyChanges,
		"unique_states":    unique,
		"window_minutes":   int(th.SovereigntyWindow.Minutes()),
	})}, nil
}

// EntropyDetector reports disordered telemetry: high Shannon entropy over (event_type, source)
type EntropyDetector struct {
	Telemetry storage.TelemetryStore
}

func (d *EntropyDetector) Type() types.AnomalyType { return types.AnomalyEntropySpike }

func (d *EntropyDetector) Detect(ctx context.Context, nodeID string, th Thresholds, now time.Time) ([]*types.Anomaly, error) {
	samples, err := d.Telemetry.QueryTelemetry(ctx, types.TelemetryQuery{
		NodeID: nodeID,
		Limit:  th.EntropyWindow,
	})
	if err != nil {
		return nil, err
	}
	if len(samples) < th.EntropyMinSamples {
		return nil, nil
	}

	normalized, patterns := NormalizedEntropy(samples)
	if normalized <= th.EntropyThreshold {
		return nil, nil
	}

	severity := types.SeverityMedium
	if normalized > th.EntropyHigh {
		severity = types.SeverityHigh
	}
	return []*types.Anomaly{newAnomaly(nodeID, types.AnomalyEntropySpike, severity, now, map[string]interface{}{
		"entropy":         round(normalized, 3),
		"threshold":       th.EntropyThreshold,
		"unique_patterns": patterns,
		"sample_size":     len(samples),
	})}, nil
}

// NormalizedEntropy computes the Shannon entropy of the (event_type, source) distribution
// divided by log2(len(samples)). It returns the normalized value and the number of distinct patterns.
func NormalizedEntropy(samples []*types.TelemetrySample) (float64, int) {
	n := len(samples)
	if n < 2 {
		return 0, n
	}

	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.EventType+":"+s.Source]++
	}

	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(float64(n)), len(counts)
}
