package detection

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

var tracer = otel.Tracer("github.com/spiralos/guardian/internal/detection")

// Result is the outcome of running every detector against one node
type Result struct {
	NodeID    string
	Anomalies []*types.Anomaly
	// Errors maps each failed detector to its error; failed detectors contribute no anomalies
	Errors map[types.AnomalyType]error
}

// Set runs the five detectors independently against a node
type Set struct {
	detectors []Detector
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Set
type Option func(*Set)

// WithTimeout bounds each detector's store access (default 5s)
func WithTimeout(d time.Duration) Option {
	return func(s *Set) { s.timeout = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// WithDetectors replaces the default detectors
func WithDetectors(detectors ...Detector) Option {
	return func(s *Set) { s.detectors = detectors }
}

// NewSet creates the standard detector set over the given stores
func NewSet(telemetry storage.TelemetryStore, coherence storage.CoherenceStore, opts ...Option) *Set {
	s := &Set{
		detectors: []Detector{
			&HeartbeatDetector{Telemetry: telemetry},
			&AcheDetector{Telemetry: telemetry},
			&ScarIndexDetector{Coherence: coherence},
			&SovereigntyDetector{Telemetry: telemetry},
			&EntropyDetector{Telemetry: telemetry},
		},
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run evaluates every detector for nodeID with the given thresholds.
// A failing detector is logged and skipped; the others still run.
func (s *Set) Run(ctx context.Context, nodeID string, th Thresholds) *Result {
	ctx, span := tracer.Start(ctx, "detection.Run")
	defer span.End()
	span.SetAttributes(attribute.String("guardian.node_id", nodeID))

	result := &Result{NodeID: nodeID, Errors: make(map[types.AnomalyType]error)}
	now := s.now()

	for _, d := range s.detectors {
		found, err := s.runOne(ctx, d, nodeID, th, now)
		if err != nil {
			fmt.Printf("Warning: %s detector failed for node %s: %v\n", d.Type(), nodeID, err)
			result.Errors[d.Type()] = err
			span.RecordError(err)
			continue
		}
		result.Anomalies = append(result.Anomalies, found...)
	}

	if len(result.Errors) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d detector(s) failed", len(result.Errors)))
	}
	span.SetAttributes(attribute.Int("guardian.anomalies", len(result.Anomalies)))
	return result
}

func (s *Set) runOne(ctx context.Context, d Detector, nodeID string, th Thresholds, now time.Time) (found []*types.Anomaly, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()

	return d.Detect(ctx, nodeID, th, now)
}
