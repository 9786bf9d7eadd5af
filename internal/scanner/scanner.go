// Package scanner sweeps nodes through the detector set, gates the findings through
// deduplication, persists the survivors and fires auto-regulation for urgent nodes.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/spiralos/guardian/internal/deduplication"
	"github.com/spiralos/guardian/internal/detection"
	"github.com/spiralos/guardian/internal/metrics"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/regulation"
	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

var tracer = otel.Tracer("github.com/spiralos/guardian/internal/scanner")

// ErrInvalidRequest is returned when a scan names neither a node nor scan_all
var ErrInvalidRequest = errors.New("either bridge_id or scan_all is required")

// Regulator is the part of regulation.Regulator the scanner fires
type Regulator interface {
	Regulate(ctx context.Context, req regulation.Request) (*regulation.Report, error)
}

// Request selects the nodes to scan
type Request struct {
	NodeID  string
	ScanAll bool
}

// NodeResult is what one node's scan produced
type NodeResult struct {
	NodeID    string           `json:"bridge_id"`
	Anomalies []*types.Anomaly `json:"anomalies"`
	// Inserted lists the IDs of anomalies that passed deduplication and were stored
	Inserted            []string          `json:"inserted"`
	Suppressed          int               `json:"suppressed"`
	DetectorErrors      map[string]string `json:"detector_errors,omitempty"`
	RegulationTriggered bool              `json:"regulation_triggered"`
}

// Summary aggregates a scan
type Summary struct {
	NodesScanned            int  `json:"nodes_scanned"`
	TotalAnomaliesDetected  int  `json:"total_anomalies_detected"`
	TotalAnomaliesInserted  int  `json:"total_anomalies_inserted"`
	TotalSuppressed         int  `json:"total_suppressed"`
	AutoRegulationTriggered bool `json:"auto_regulation_triggered"`
}

// Report is the result of one scan
type Report struct {
	Success          bool         `json:"success"`
	Message          string       `json:"message"`
	Results          []NodeResult `json:"results"`
	Summary          Summary      `json:"summary"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
}

// Scanner runs detection over nodes sequentially
type Scanner struct {
	store      storage.Storage
	detectors  *detection.Set
	thresholds detection.Thresholds
	dedup      deduplication.Deduplicator
	regulator  Regulator
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	config     *Config
	now        func() time.Time

	regulationSem *semaphore.Weighted
	wg            sync.WaitGroup
}

// ScannerConfig holds the dependencies of a Scanner
type ScannerConfig struct {
	Store      storage.Storage
	Detectors  *detection.Set
	Thresholds detection.Thresholds
	Dedup      deduplication.Deduplicator
	Regulator  Regulator        // optional; nil disables auto-regulation
	Notifier   notify.Notifier  // optional, defaults to notify.Nop
	Metrics    *metrics.Metrics // optional
	Config     *Config          // optional, defaults to DefaultConfig()
	Now        func() time.Time // optional, defaults to time.Now
}

// New creates a scanner
func New(cfg *ScannerConfig) (*Scanner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Detectors == nil {
		return nil, fmt.Errorf("detectors are required")
	}
	if cfg.Dedup == nil {
		return nil, fmt.Errorf("deduplicator is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	config := cfg.Config
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scanner config: %w", err)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scanner{
		store:         cfg.Store,
		detectors:     cfg.Detectors,
		thresholds:    cfg.Thresholds,
		dedup:         cfg.Dedup,
		regulator:     cfg.Regulator,
		notifier:      notifier,
		metrics:       cfg.Metrics,
		config:        config,
		now:           now,
		regulationSem: semaphore.NewWeighted(int64(config.MaxConcurrentRegulations)),
	}, nil
}

// Scan runs every detector over the requested nodes, one node at a time.
// Per-node failures are recorded in the report; only request and registry errors are returned.
// A started scan ignores cancellation of ctx and runs to completion; each store access
// is still bounded by its own timeout.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "scanner.Scan", trace.WithAttributes(
		attribute.String("guardian.node_id", req.NodeID),
		attribute.Bool("guardian.scan_all", req.ScanAll),
	))
	defer span.End()

	nodeIDs, err := s.resolveNodes(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordScan(time.Since(start), 0, err)
		return nil, err
	}

	fmt.Printf("Scanner: scanning %d node(s) for anomalies\n", len(nodeIDs))

	report := &Report{Success: true, Results: make([]NodeResult, 0, len(nodeIDs))}
	var findings []notify.NodeFindings
	for _, nodeID := range nodeIDs {
		result, inserted := s.scanNode(ctx, nodeID)
		report.Results = append(report.Results, result)

		report.Summary.TotalAnomaliesDetected += len(result.Anomalies)
		report.Summary.TotalAnomaliesInserted += len(result.Inserted)
		report.Summary.TotalSuppressed += result.Suppressed
		if result.RegulationTriggered {
			report.Summary.AutoRegulationTriggered = true
		}
		if len(inserted) > 0 {
			findings = append(findings, notify.NodeFindings{NodeID: nodeID, Anomalies: inserted})
		}
	}
	report.Summary.NodesScanned = len(nodeIDs)
	report.Message = fmt.Sprintf("Scanned %d node(s)", len(nodeIDs))

	if report.Summary.TotalAnomaliesInserted > 0 {
		s.notifier.Send(ctx, notify.ScanSummary(len(nodeIDs), report.Summary.TotalAnomaliesInserted, findings))
	}

	elapsed := time.Since(start)
	report.ProcessingTimeMs = elapsed.Milliseconds()
	s.metrics.RecordScan(elapsed, len(nodeIDs), nil)
	span.SetAttributes(
		attribute.Int("guardian.nodes_scanned", len(nodeIDs)),
		attribute.Int("guardian.anomalies_inserted", report.Summary.TotalAnomaliesInserted),
	)

	fmt.Printf("Scanner: completed, %d/%d new anomalies\n",
		report.Summary.TotalAnomaliesInserted, report.Summary.TotalAnomaliesDetected)
	return report, nil
}

// Wait blocks until every asynchronous regulation fired by earlier scans has finished
func (s *Scanner) Wait() {
	s.wg.Wait()
}

func (s *Scanner) resolveNodes(ctx context.Context, req Request) ([]string, error) {
	if req.NodeID != "" {
		return []string{req.NodeID}, nil
	}
	if !req.ScanAll {
		return nil, ErrInvalidRequest
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	nodes, err := s.store.ListActiveNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nodes: %w", err)
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// scanNode detects, deduplicates and inserts for one node, then fires regulation if warranted.
// It returns the node result and the anomalies that were stored.
func (s *Scanner) scanNode(ctx context.Context, nodeID string) (NodeResult, []*types.Anomaly) {
	result := NodeResult{NodeID: nodeID, Anomalies: []*types.Anomaly{}, Inserted: []string{}}

	detected := s.detectors.Run(ctx, nodeID, s.thresholdsFor(ctx, nodeID))
	for anomalyType, err := range detected.Errors {
		if result.DetectorErrors == nil {
			result.DetectorErrors = make(map[string]string)
		}
		result.DetectorErrors[string(anomalyType)] = err.Error()
		s.metrics.RecordDetectorError(anomalyType)
	}
	for _, a := range detected.Anomalies {
		s.metrics.RecordDetected(a)
	}
	result.Anomalies = append(result.Anomalies, detected.Anomalies...)
	if len(detected.Anomalies) == 0 {
		return result, nil
	}

	dedup, err := s.dedup.DeduplicateBatch(ctx, detected.Anomalies)
	if err != nil {
		fmt.Printf("Warning: deduplication failed for node %s: %v (nothing inserted)\n", nodeID, err)
		return result, nil
	}
	for idx := range dedup.DuplicatePairs {
		s.metrics.RecordSuppressed(detected.Anomalies[idx].AnomalyType, metrics.SuppressedExisting)
	}
	for idx := range dedup.WithinBatchDuplicates {
		s.metrics.RecordSuppressed(detected.Anomalies[idx].AnomalyType, metrics.SuppressedWithinBatch)
	}
	result.Suppressed = dedup.Stats.Suppressed()

	var inserted []*types.Anomaly
	for _, a := range dedup.Unique {
		if err := s.insert(ctx, a); err != nil {
			fmt.Printf("Warning: failed to insert %s anomaly for node %s: %v\n", a.AnomalyType, nodeID, err)
			continue
		}
		s.metrics.RecordInserted(a)
		inserted = append(inserted, a)
		result.Inserted = append(result.Inserted, a.ID)
	}

	if s.shouldRegulate(inserted) {
		s.fireRegulation(ctx, nodeID)
		result.RegulationTriggered = true
	}
	return result, inserted
}

func (s *Scanner) insert(ctx context.Context, a *types.Anomaly) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.InsertAnomaly(ctx, a)
}

// thresholdsFor applies the node's tightened thresholds while its entropy correction window is open
func (s *Scanner) thresholdsFor(ctx context.Context, nodeID string) detection.Thresholds {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	profile, err := s.store.GetProfile(ctx, nodeID)
	if err != nil {
		fmt.Printf("Warning: failed to read profile for node %s: %v (using default thresholds)\n", nodeID, err)
		return s.thresholds
	}
	if profile == nil || !profile.Metadata.EntropyCorrectionInEffect(s.now()) {
		return s.thresholds
	}
	return s.thresholds.WithOverrides(profile.Metadata.TightenedThresholds)
}

func (s *Scanner) shouldRegulate(inserted []*types.Anomaly) bool {
	if s.regulator == nil || !s.config.AutoRegulate {
		return false
	}
	for _, a := range inserted {
		if a.Severity.TriggersRegulation() {
			return true
		}
	}
	return false
}

// fireRegulation regulates the node in the background; the scan does not wait for it
func (s *Scanner) fireRegulation(ctx context.Context, nodeID string) {
	fmt.Printf("Scanner: high-priority anomaly on node %s, triggering auto-regulation\n", nodeID)

	regCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		regCtx, cancel := context.WithTimeout(regCtx, s.config.RegulationTimeout)
		defer cancel()

		if err := s.regulationSem.Acquire(regCtx, 1); err != nil {
			fmt.Printf("Warning: failed to acquire regulation slot for node %s: %v\n", nodeID, err)
			return
		}
		defer s.regulationSem.Release(1)

		if _, err := s.regulator.Regulate(regCtx, regulation.Request{NodeID: nodeID, Mode: types.ModeAuto}); err != nil {
			fmt.Printf("Warning: auto-regulation failed for node %s: %v\n", nodeID, err)
		}
	}()
}
