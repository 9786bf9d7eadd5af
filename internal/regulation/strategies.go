package regulation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// SourceAutoRegulation tags every record the strategies write
const SourceAutoRegulation = "auto_regulation"

// Strategy applies one kind of correction for an anomaly.
// Failures are reported through the result (Success=false), never as a panic or error.
type Strategy interface {
	Type() types.CorrectionType
	Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult
}

func failed(correction types.CorrectionType, format string, args ...interface{}) *types.CorrectionResult {
	return &types.CorrectionResult{
		Success:        false,
		CorrectionType: correction,
		Details:        fmt.Sprintf(format, args...),
	}
}

// RecoveryPulse raises a node's coherence value to max(floor, current*multiplier)
type RecoveryPulse struct {
	Coherence storage.CoherenceStore
	Config    *Config
	Now       func() time.Time
}

func (s *RecoveryPulse) Type() types.CorrectionType { return types.CorrectionScarIndexRecovery }

func (s *RecoveryPulse) Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	current, err := s.Coherence.GetCoherence(ctx, anomaly.NodeID)
	if err != nil || current == nil {
		if err != nil {
			fmt.Printf("Warning: recovery pulse failed to read coherence for node %s: %v\n", anomaly.NodeID, err)
		}
		return failed(s.Type(), "Failed to fetch current ScarIndex")
	}

	target := math.Min(1, math.Max(s.Config.RecoveryFloor, current.Value*s.Config.RecoveryMultiplier))
	delta := target - current.Value
	now := s.Now()

	if err := s.Coherence.SetCoherence(ctx, &types.CoherenceReading{
		NodeID:    anomaly.NodeID,
		Value:     target,
		UpdatedAt: now,
	}); err != nil {
		return failed(s.Type(), "Failed to update ScarIndex: %v", err)
	}

	if err := s.Coherence.AppendCoherenceHistory(ctx, &types.CoherenceHistoryEntry{
		NodeID: anomaly.NodeID,
		Value:  target,
		Delta:  delta,
		Source: SourceAutoRegulation,
		Metadata: map[string]interface{}{
			"anomaly_id":     anomaly.ID,
			"recovery_pulse": true,
			"original_value": current.Value,
		},
		Timestamp: now,
	}); err != nil {
		// The value itself was written; only the audit entry is missing
		fmt.Printf("Warning: failed to append coherence history for node %s: %v\n", anomaly.NodeID, err)
	}

	return &types.CorrectionResult{
		Success:          true,
		CorrectionType:   s.Type(),
		Details:          fmt.Sprintf("ScarIndex recovered from %.4f to %.4f", current.Value, target),
		CoherenceDelta:   types.Float64(delta),
		AffectedEntities: []string{anomaly.NodeID},
		Metadata: map[string]interface{}{
			"previous_value": current.Value,
			"new_value":      target,
		},
	}
}

// Stabilizer re-asserts the node's most frequent recent sovereign state with a calm synthetic sample
type Stabilizer struct {
	Telemetry storage.TelemetryStore
	Config    *Config
	Now       func() time.Time
}

func (s *Stabilizer) Type() types.CorrectionType { return types.CorrectionSovereignty }

func (s *Stabilizer) Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	samples, err := s.Telemetry.QueryTelemetry(ctx, types.TelemetryQuery{
		NodeID: anomaly.NodeID,
		Limit:  s.Config.StabilizerWindow,
	})
	if err != nil {
		fmt.Printf("Warning: stabilizer failed to read telemetry for node %s: %v\n", anomaly.NodeID, err)
		return failed(s.Type(), "Failed to fetch sovereign states")
	}

	state := mostFrequentState(samples)
	if state == "" {
		return failed(s.Type(), "No stable sovereign state found")
	}

	sample := &types.TelemetrySample{
		NodeID:         anomaly.NodeID,
		Timestamp:      s.Now(),
		HealthSignal:   types.Float64(0.8),
		AcheSignature:  types.Float64(0.3),
		SovereignState: state,
		EventType:      "sovereignty_stabilization",
		Source:         SourceAutoRegulation,
		SignalType:     "stabilization_signal",
		Payload: map[string]interface{}{
			"anomaly_id":       anomaly.ID,
			"stabilized_state": state,
		},
	}
	if err := s.Telemetry.InsertTelemetry(ctx, sample); err != nil {
		return failed(s.Type(), "Failed to insert stabilization event: %v", err)
	}

	return &types.CorrectionResult{
		Success:          true,
		CorrectionType:   s.Type(),
		Details:          fmt.Sprintf("Sovereignty stabilized to: %s", state),
		AffectedEntities: []string{anomaly.NodeID},
		Metadata:         map[string]interface{}{"stabilized_state": state},
	}
}

// mostFrequentState picks the most common non-empty state label.
// Ties go to the label seen first in the (newest-first) sample order.
func mostFrequentState(samples []*types.TelemetrySample) string {
	counts := make(map[string]int)
	var order []string
	for _, s := range samples {
		if s.SovereignState == "" {
			continue
		}
		if counts[s.SovereignState] == 0 {
			order = append(order, s.SovereignState)
		}
		counts[s.SovereignState]++
	}

	best := ""
	for _, state := range order {
		if counts[state] > counts[best] {
			best = state
		}
	}
	return best
}

// AcheBuffer turns on ache dampening in the node's profile for a bounded window
type AcheBuffer struct {
	Profiles *ProfileManager
	Config   *Config
	Now      func() time.Time
}

func (s *AcheBuffer) Type() types.CorrectionType { return types.CorrectionAcheBuffer }

func (s *AcheBuffer) Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	started := s.Now()
	_, err := s.Profiles.Update(ctx, anomaly.NodeID, func(p *types.CorrectionProfile) error {
		p.Metadata.AcheBufferActive = true
		p.Metadata.AcheBufferStarted = &started
		p.Metadata.AcheBufferDurationSeconds = int(s.Config.AcheBufferDuration / time.Second)
		p.Metadata.DampeningFactor = s.Config.DampeningFactor
		return nil
	})
	if err != nil {
		fmt.Printf("Warning: ache buffer failed for node %s: %v\n", anomaly.NodeID, err)
		return failed(s.Type(), "Failed to update correction profile")
	}

	return &types.CorrectionResult{
		Success:        true,
		CorrectionType: s.Type(),
		Details: fmt.Sprintf("Ache buffering active for %s with %.1fx dampening",
			describeDuration(s.Config.AcheBufferDuration), s.Config.DampeningFactor),
		AffectedEntities: []string{anomaly.NodeID},
	}
}

// HeartbeatCorrection inserts a synthetic heartbeat to bridge a telemetry gap
type HeartbeatCorrection struct {
	Telemetry storage.TelemetryStore
	Now       func() time.Time
}

func (s *HeartbeatCorrection) Type() types.CorrectionType { return types.CorrectionHeartbeat }

func (s *HeartbeatCorrection) Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	sample := &types.TelemetrySample{
		NodeID:        anomaly.NodeID,
		Timestamp:     s.Now(),
		HealthSignal:  types.Float64(0.7),
		AcheSignature: types.Float64(0.5),
		EventType:     "synthetic_heartbeat",
		Source:        SourceAutoRegulation,
		SignalType:    "health_signal",
		Payload: map[string]interface{}{
			"anomaly_id": anomaly.ID,
			"synthetic":  true,
			"reason":     "heartbeat_gap_detected",
		},
	}
	if err := s.Telemetry.InsertTelemetry(ctx, sample); err != nil {
		return failed(s.Type(), "Failed to insert synthetic heartbeat: %v", err)
	}

	return &types.CorrectionResult{
		Success:          true,
		CorrectionType:   s.Type(),
		Details:          "Synthetic heartbeat event inserted to maintain telemetry continuity",
		AffectedEntities: []string{anomaly.NodeID},
	}
}

// EntropyCorrection records tightened detector thresholds on the node's profile.
// The scanner applies them to the node while the window is open.
type EntropyCorrection struct {
	Profiles *ProfileManager
	Config   *Config
	Now      func() time.Time
}

func (s *EntropyCorrection) Type() types.CorrectionType { return types.CorrectionEntropy }

func (s *EntropyCorrection) Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	started := s.Now()
	tightened := s.Config.TightenedThresholds
	_, err := s.Profiles.Update(ctx, anomaly.NodeID, func(p *types.CorrectionProfile) error {
		p.Metadata.EntropyCorrectionActive = true
		p.Metadata.EntropyCorrectionStarted = &started
		p.Metadata.EntropyCorrectionDurationSeconds = int(s.Config.EntropyCorrectionDuration / time.Second)
		p.Metadata.TightenedThresholds = &tightened
		return nil
	})
	if err != nil {
		fmt.Printf("Warning: entropy correction failed for node %s: %v\n", anomaly.NodeID, err)
		return failed(s.Type(), "Failed to update correction profile")
	}

	return &types.CorrectionResult{
		Success:        true,
		CorrectionType: s.Type(),
		Details: fmt.Sprintf("Anomaly detection thresholds tightened for %s to reduce entropy",
			describeDuration(s.Config.EntropyCorrectionDuration)),
		AffectedEntities: []string{anomaly.NodeID},
	}
}

// Freeze puts a node into self-preservation mode: only CRITICAL anomalies are corrected
// until the window elapses, and the correction budget is zeroed.
type Freeze struct {
	Profiles *ProfileManager
	Notifier notify.Notifier
	Config   *Config
	Now      func() time.Time
}

func (s *Freeze) Type() types.CorrectionType { return types.CorrectionFreeze }

func (s *Freeze) Apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	started := s.Now()
	_, err := s.Profiles.Update(ctx, anomaly.NodeID, func(p *types.CorrectionProfile) error {
		p.Metadata.FreezeActive = true
		p.Metadata.FreezeStarted = &started
		p.Metadata.FreezeDurationSeconds = int(s.Config.FreezeDuration / time.Second)
		p.Metadata.FreezeReason = fmt.Sprintf("CRITICAL anomaly: %s", anomaly.AnomalyType)
		p.CorrectionBudget = 0
		return nil
	})
	if err != nil {
		fmt.Printf("Warning: freeze failed for node %s: %v\n", anomaly.NodeID, err)
		return failed(s.Type(), "Failed to update correction profile")
	}

	s.Notifier.Send(ctx, notify.FreezeAlert(anomaly.NodeID, anomaly.AnomalyType, s.Config.FreezeDuration))

	return &types.CorrectionResult{
		Success:        true,
		CorrectionType: s.Type(),
		Details: fmt.Sprintf("Node frozen for %s to prevent cascading failures",
			describeDuration(s.Config.FreezeDuration)),
		AffectedEntities: []string{anomaly.NodeID},
	}
}
