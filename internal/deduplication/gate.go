package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// Gate implements Deduplicator against the anomaly store
type Gate struct {
	store  storage.AnomalyStore
	config Config
}

// Compile-time check that Gate implements Deduplicator
var _ Deduplicator = (*Gate)(nil)

// NewGate creates a deduplication gate.
// Returns an error if store is nil or config validation fails.
func NewGate(store storage.AnomalyStore, config Config) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Gate{store: store, config: config}, nil
}

// Config returns the gate's configuration
func (g *Gate) Config() Config {
	return g.config
}

// CheckDuplicate checks one candidate against the store
func (g *Gate) CheckDuplicate(ctx context.Context, candidate *types.Anomaly) (*DuplicateDecision, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate anomaly cannot be nil")
	}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid candidate anomaly: %w", err)
	}

	detectedAt := candidate.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}
	since := detectedAt.Add(-g.config.Window)

	lookupCtx, cancel := context.WithTimeout(ctx, g.config.LookupTimeout)
	defer cancel()

	existing, err := g.store.FindActiveAnomaly(lookupCtx, candidate.NodeID, candidate.AnomalyType, since)
	if err != nil {
		if !g.config.FailOpen {
			return nil, fmt.Errorf("failed to query active anomalies: %w", err)
		}
		fmt.Printf("Warning: dedup lookup failed for %s/%s: %v (admitting anomaly)\n",
			candidate.NodeID, candidate.AnomalyType, err)
		return &DuplicateDecision{
			IsDuplicate:  false,
			Reasoning:    fmt.Sprintf("Failed to query active anomalies: %v", err),
			LookupFailed: true,
		}, nil
	}

	if existing == nil {
		return &DuplicateDecision{
			IsDuplicate: false,
			Reasoning:   fmt.Sprintf("No active %s anomaly in the last %v", candidate.AnomalyType, g.config.Window),
		}, nil
	}

	return &DuplicateDecision{
		IsDuplicate: true,
		DuplicateOf: existing.ID,
		Reasoning: fmt.Sprintf("Active %s anomaly %s detected at %s",
			existing.AnomalyType, existing.ID, existing.DetectedAt.UTC().Format(time.RFC3339)),
	}, nil
}

type batchKey struct {
	nodeID      string
	anomalyType types.AnomalyType
}

// DeduplicateBatch checks every candidate. The first candidate of each (node, type) is
// checked against the store; later ones are within-batch duplicates when enabled.
// Candidates whose lookup fails without FailOpen are dropped and logged.
func (g *Gate) DeduplicateBatch(ctx context.Context, candidates []*types.Anomaly) (*DeduplicationResult, error) {
	startTime := time.Now()

	for i, candidate := range candidates {
		if candidate == nil {
			return nil, fmt.Errorf("candidate at index %d is nil", i)
		}
		if err := candidate.Validate(); err != nil {
			return nil, fmt.Errorf("invalid candidate at index %d: %w", i, err)
		}
	}

	result := &DeduplicationResult{
		Unique:                []*types.Anomaly{},
		DuplicatePairs:        make(map[int]string),
		WithinBatchDuplicates: make(map[int]int),
	}
	firstSeen := make(map[batchKey]int)

	for i, candidate := range candidates {
		key := batchKey{nodeID: candidate.NodeID, anomalyType: candidate.AnomalyType}
		if g.config.EnableWithinBatchDedup {
			if j, ok := firstSeen[key]; ok {
				result.WithinBatchDuplicates[i] = j
				fmt.Printf("Dedup: %s/%s repeats candidate %d in this batch, suppressed\n",
					candidate.NodeID, candidate.AnomalyType, j)
				continue
			}
		}

		decision, err := g.CheckDuplicate(ctx, candidate)
		result.Stats.LookupsMade++
		if err != nil {
			fmt.Printf("Warning: dropping %s/%s: %v\n", candidate.NodeID, candidate.AnomalyType, err)
			result.Stats.LookupFailures++
			result.Stats.DroppedCount++
			continue
		}
		if decision.LookupFailed {
			result.Stats.LookupFailures++
		}

		if decision.IsDuplicate {
			result.DuplicatePairs[i] = decision.DuplicateOf
			fmt.Printf("Dedup: %s/%s suppressed (%s)\n", candidate.NodeID, candidate.AnomalyType, decision.Reasoning)
			continue
		}

		if _, ok := firstSeen[key]; !ok {
			firstSeen[key] = i
		}
		result.Unique = append(result.Unique, candidate)
	}

	result.Stats.TotalCandidates = len(candidates)
	result.Stats.UniqueCount = len(result.Unique)
	result.Stats.DuplicateCount = len(result.DuplicatePairs)
	result.Stats.WithinBatchDuplicateCount = len(result.WithinBatchDuplicates)
	result.Stats.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	return result, nil
}
