package regulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/spiralos/guardian/internal/metrics"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

var tracer = otel.Tracer("github.com/spiralos/guardian/internal/regulation")

// Skip reasons recorded on refused dispatches
const (
	ReasonFrozen          = "Node in freeze mode, non-critical corrections disabled"
	ReasonBudgetExhausted = "Correction budget exhausted"
	ReasonCooldown        = "Cooldown period active"
)

// Outcome is what one dispatch did
type Outcome struct {
	// Result is the primary correction result (or the skip result)
	Result *types.CorrectionResult
	// Skipped is true when a freeze, budget or cooldown gate refused the correction
	Skipped bool
	// FreezeApplied is true when a CRITICAL success escalated into freeze mode
	FreezeApplied bool
	// Resolved is true when the anomaly moved to RESOLVED
	Resolved bool
	// Timestamp is when the dispatch finished
	Timestamp time.Time
}

// Dispatcher runs the correction state machine for a single anomaly:
// freeze check, budget check, cooldown check, strategy, freeze escalation, history, resolution.
type Dispatcher struct {
	anomalies  storage.AnomalyStore
	history    storage.HistoryStore
	profiles   *ProfileManager
	cooldown   *CooldownGate
	strategies map[types.CorrectionType]Strategy
	freeze     Strategy
	metrics    *metrics.Metrics
	config     *Config
	now        func() time.Time
}

// DispatcherConfig holds the dependencies of a Dispatcher
type DispatcherConfig struct {
	Store    storage.Storage
	Notifier notify.Notifier  // optional, defaults to notify.Nop
	Metrics  *metrics.Metrics // optional
	Config   *Config          // optional, defaults to DefaultConfig()
	Now      func() time.Time // optional, defaults to time.Now
}

// NewDispatcher creates a dispatcher wired with the six standard strategies
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	config := cfg.Config
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid regulation config: %w", err)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	profiles := NewProfileManager(cfg.Store, now)
	d := &Dispatcher{
		anomalies: cfg.Store,
		history:   cfg.Store,
		profiles:  profiles,
		cooldown:  NewCooldownGate(cfg.Store, now),
		metrics:   cfg.Metrics,
		config:    config,
		now:       now,
		freeze:    &Freeze{Profiles: profiles, Notifier: notifier, Config: config, Now: now},
	}
	d.strategies = map[types.CorrectionType]Strategy{}
	for _, s := range []Strategy{
		&RecoveryPulse{Coherence: cfg.Store, Config: config, Now: now},
		&Stabilizer{Telemetry: cfg.Store, Config: config, Now: now},
		&AcheBuffer{Profiles: profiles, Config: config, Now: now},
		&HeartbeatCorrection{Telemetry: cfg.Store, Now: now},
		&EntropyCorrection{Profiles: profiles, Config: config, Now: now},
	} {
		d.strategies[s.Type()] = s
	}
	return d, nil
}

// Profiles exposes the profile manager shared with the strategies
func (d *Dispatcher) Profiles() *ProfileManager {
	return d.profiles
}

// Dispatch applies the correction for one anomaly and records it.
// It returns types.ErrAlreadyResolved without side effects when the anomaly is no longer ACTIVE.
func (d *Dispatcher) Dispatch(ctx context.Context, anomaly *types.Anomaly, mode types.RegulationMode) (*Outcome, error) {
	if anomaly == nil {
		return nil, fmt.Errorf("anomaly is required")
	}
	if mode == "" {
		mode = types.ModeAuto
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}

	ctx, span := tracer.Start(ctx, "regulation.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("guardian.node_id", anomaly.NodeID),
		attribute.String("guardian.anomaly_id", anomaly.ID),
		attribute.String("guardian.anomaly_type", string(anomaly.AnomalyType)),
		attribute.String("guardian.severity", string(anomaly.Severity)),
	)

	if err := d.ensureActive(ctx, anomaly); err != nil {
		return nil, err
	}

	critical := anomaly.Severity == types.SeverityCritical
	outcome := &Outcome{}

	if !critical {
		if reason := d.gate(ctx, anomaly.NodeID); reason != "" {
			outcome.Result = types.Skipped(types.CorrectionNone, reason)
			outcome.Skipped = true
		}
	}

	if !outcome.Skipped {
		outcome.Result = d.apply(ctx, anomaly)
	}
	result := outcome.Result

	if result.Success && result.CorrectionType != types.CorrectionNone {
		if _, err := d.profiles.SpendBudget(ctx, anomaly.NodeID); err != nil {
			fmt.Printf("Warning: failed to spend correction budget for node %s: %v\n", anomaly.NodeID, err)
		}

		if critical {
			freezeResult := d.run(ctx, d.freeze, anomaly)
			if freezeResult.Success {
				outcome.FreezeApplied = true
				result.Details += " + Freeze mode activated"
				d.metrics.RecordFreeze()
			} else {
				fmt.Printf("Warning: freeze escalation failed for node %s: %s\n", anomaly.NodeID, freezeResult.Details)
			}
		}
	}

	d.record(ctx, anomaly, mode, outcome)

	if result.Success && result.CorrectionType != types.CorrectionNone && anomaly.ID != "" {
		outcome.Resolved = d.resolve(ctx, anomaly, result.CorrectionType)
	}

	outcome.Timestamp = d.now()
	d.metrics.RecordCorrection(result, outcome.Skipped)
	span.SetAttributes(
		attribute.String("guardian.correction_type", string(result.CorrectionType)),
		attribute.Bool("guardian.success", result.Success),
		attribute.Bool("guardian.skipped", outcome.Skipped),
	)

	status := "✓"
	if !result.Success {
		status = "✗"
	}
	fmt.Printf("Dispatcher: %s %s for %s anomaly on node %s: %s\n",
		status, result.CorrectionType, anomaly.AnomalyType, anomaly.NodeID, result.Details)
	return outcome, nil
}

// ensureActive re-reads the anomaly so a stale copy cannot resolve it twice
func (d *Dispatcher) ensureActive(ctx context.Context, anomaly *types.Anomaly) error {
	if !anomaly.IsActive() {
		return types.ErrAlreadyResolved
	}
	if anomaly.ID == "" {
		return nil
	}

	current, err := d.anomalies.GetAnomaly(ctx, anomaly.ID)
	if err != nil {
		fmt.Printf("Warning: failed to re-read anomaly %s: %v (using caller's copy)\n", anomaly.ID, err)
		return nil
	}
	if current != nil && !current.IsActive() {
		return types.ErrAlreadyResolved
	}
	return nil
}

// gate returns the reason a non-critical correction must be skipped, or "".
// A profile read failure opens every gate.
func (d *Dispatcher) gate(ctx context.Context, nodeID string) string {
	profile, err := d.profiles.GetOrCreate(ctx, nodeID)
	if err != nil {
		fmt.Printf("Warning: %v (skipping freeze, budget and cooldown checks)\n", err)
		return ""
	}

	now := d.now()
	if profile.Metadata.FreezeExpired(now) {
		thawed, err := d.profiles.Thaw(ctx, profile)
		if err != nil {
			fmt.Printf("Warning: failed to thaw node %s: %v\n", nodeID, err)
			profile.Metadata.ClearFreeze()
			profile.CorrectionBudget = types.DefaultCorrectionBudget
			profile.Metadata.BudgetWindowStarted = nil
		} else {
			fmt.Printf("Dispatcher: freeze expired for node %s, correction budget restored\n", nodeID)
			profile = thawed
		}
	}

	if profile.Metadata.FreezeInEffect(now) {
		return ReasonFrozen
	}
	if refilled, err := d.profiles.RefillBudget(ctx, profile, d.config.BudgetWindow); err != nil {
		fmt.Printf("Warning: failed to refill correction budget for node %s: %v\n", nodeID, err)
		profile.CorrectionBudget = types.DefaultCorrectionBudget
	} else if refilled != profile {
		fmt.Printf("Dispatcher: budget window elapsed for node %s, correction budget restored\n", nodeID)
		profile = refilled
	}
	if profile.CorrectionBudget <= 0 {
		return ReasonBudgetExhausted
	}
	if ok, remaining := d.cooldown.Allow(ctx, profile); !ok {
		fmt.Printf("Dispatcher: node %s cooling down (%v remaining)\n", nodeID, remaining.Round(time.Second))
		return ReasonCooldown
	}
	return ""
}

func (d *Dispatcher) apply(ctx context.Context, anomaly *types.Anomaly) *types.CorrectionResult {
	correction := types.CorrectionFor(anomaly.AnomalyType)
	strategy, ok := d.strategies[correction]
	if !ok {
		return failed(types.CorrectionNone, "No correction strategy for anomaly type: %s", anomaly.AnomalyType)
	}
	return d.run(ctx, strategy, anomaly)
}

// run executes a strategy under the store timeout, converting a panic into a failed result
func (d *Dispatcher) run(ctx context.Context, s Strategy, anomaly *types.Anomaly) (result *types.CorrectionResult) {
	ctx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = failed(s.Type(), "Error: strategy panicked: %v", r)
		}
	}()

	result = s.Apply(ctx, anomaly)
	if result == nil {
		result = failed(s.Type(), "Error: strategy returned no result")
	}
	return result
}

// record appends the single history row every dispatch produces
func (d *Dispatcher) record(ctx context.Context, anomaly *types.Anomaly, mode types.RegulationMode, outcome *Outcome) {
	result := outcome.Result
	entry := &types.RegulationHistoryEntry{
		NodeID:         anomaly.NodeID,
		AnomalyID:      anomaly.ID,
		CorrectionType: result.CorrectionType,
		Severity:       anomaly.Severity,
		Mode:           mode,
		Payload: map[string]interface{}{
			"anomaly_type":      string(anomaly.AnomalyType),
			"details":           anomaly.Details,
			"affected_entities": result.AffectedEntities,
			"mode":              string(mode),
			"skipped":           outcome.Skipped,
			"freeze_applied":    outcome.FreezeApplied,
		},
		Success:        result.Success,
		ResultDetails:  result.Details,
		CoherenceDelta: result.CoherenceDelta,
		ExecutedAt:     d.now(),
	}
	if err := d.history.AppendHistory(ctx, entry); err != nil {
		fmt.Printf("Warning: failed to log regulation history for node %s: %v\n", anomaly.NodeID, err)
	}
}

func (d *Dispatcher) resolve(ctx context.Context, anomaly *types.Anomaly, correction types.CorrectionType) bool {
	err := d.anomalies.ResolveAnomaly(ctx, anomaly.ID, &types.Resolution{
		ResolvedAt:     d.now(),
		ResolvedBy:     types.ResolverAutoRegulation,
		CorrectionType: correction,
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, types.ErrAlreadyResolved):
		fmt.Printf("Dispatcher: anomaly %s was resolved concurrently, keeping existing resolution\n", anomaly.ID)
	default:
		fmt.Printf("Warning: failed to resolve anomaly %s: %v\n", anomaly.ID, err)
	}
	return false
}
