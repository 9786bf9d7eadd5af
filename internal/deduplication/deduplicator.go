package deduplication

import (
	"context"
	"fmt"

	"github.com/spiralos/guardian/internal/types"
)

// Deduplicator decides whether a detected anomaly repeats one that is already ACTIVE.
//
// Example usage:
//
//	gate, _ := NewGate(store, DefaultConfig())
//
//	// Check single anomaly
//	decision, err := gate.CheckDuplicate(ctx, anomaly)
//	if err != nil {
//	    log.Printf("Dedup check failed: %v", err)
//	}
//	if decision.IsDuplicate {
//	    log.Printf("Anomaly repeats %s", decision.DuplicateOf)
//	}
//
//	// Batch deduplication (one node scan)
//	result, err := gate.DeduplicateBatch(ctx, findings)
type Deduplicator interface {
	// CheckDuplicate looks for an ACTIVE anomaly of the candidate's (node, type) detected
	// within the window that ends at the candidate's DetectedAt.
	//
	// Returns:
	// - DuplicateDecision with IsDuplicate=true and DuplicateOf set when one exists
	// - DuplicateDecision with IsDuplicate=false otherwise (or on lookup failure with FailOpen)
	// - Error if the candidate is invalid, or the lookup fails with FailOpen disabled
	CheckDuplicate(ctx context.Context, candidate *types.Anomaly) (*DuplicateDecision, error)

	// DeduplicateBatch checks every candidate, collapsing repeats within the batch itself.
	//
	// Returns:
	// - DeduplicationResult with unique anomalies, duplicate pairs, and statistics
	// - Error if a candidate is invalid
	DeduplicateBatch(ctx context.Context, candidates []*types.Anomaly) (*DeduplicationResult, error)
}

// DuplicateDecision represents the result of checking a single anomaly
type DuplicateDecision struct {
	// IsDuplicate is true if an ACTIVE anomaly of the same (node, type) exists in the window
	IsDuplicate bool `json:"is_duplicate"`

	// DuplicateOf is the ID of the existing anomaly
	// Only set when IsDuplicate is true
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// Reasoning explains the decision (useful in logs)
	Reasoning string `json:"reasoning,omitempty"`

	// LookupFailed is true if the store could not be queried and FailOpen admitted the anomaly
	LookupFailed bool `json:"lookup_failed,omitempty"`
}

// Validate checks if the duplicate decision has valid values
func (d *DuplicateDecision) Validate() error {
	if d.IsDuplicate && d.DuplicateOf == "" {
		return fmt.Errorf("duplicate_of must be set when is_duplicate is true")
	}
	if !d.IsDuplicate && d.DuplicateOf != "" {
		return fmt.Errorf("duplicate_of should not be set when is_duplicate is false")
	}
	if d.IsDuplicate && d.LookupFailed {
		return fmt.Errorf("a failed lookup cannot produce a duplicate")
	}
	return nil
}

// DeduplicationResult represents the result of batch deduplication
type DeduplicationResult struct {
	// Unique are the anomalies that should be inserted, in input order
	Unique []*types.Anomaly `json:"unique"`

	// DuplicatePairs maps candidate indices to the ID of the existing ACTIVE anomaly
	DuplicatePairs map[int]string `json:"duplicate_pairs"`

	// WithinBatchDuplicates maps candidate indices to the index of the first
	// candidate with the same (node, type)
	WithinBatchDuplicates map[int]int `json:"within_batch_duplicates,omitempty"`

	Stats DeduplicationStats `json:"stats"`
}

// DeduplicationStats provides metrics about one batch
type DeduplicationStats struct {
	TotalCandidates           int   `json:"total_candidates"`
	UniqueCount               int   `json:"unique_count"`
	DuplicateCount            int   `json:"duplicate_count"`
	WithinBatchDuplicateCount int   `json:"within_batch_duplicate_count"`
	LookupsMade               int   `json:"lookups_made"`
	LookupFailures            int   `json:"lookup_failures"`
	DroppedCount              int   `json:"dropped_count,omitempty"`
	ProcessingTimeMs          int64 `json:"processing_time_ms"`
}

// Suppressed returns how many candidates repeated an existing or earlier anomaly
func (s DeduplicationStats) Suppressed() int {
	return s.DuplicateCount + s.WithinBatchDuplicateCount
}

// Validate checks if the deduplication result has valid values
func (r *DeduplicationResult) Validate() error {
	uniqueCount := len(r.Unique)
	duplicateCount := len(r.DuplicatePairs)
	withinBatchCount := len(r.WithinBatchDuplicates)

	if r.Stats.UniqueCount != uniqueCount {
		return fmt.Errorf("stats.unique_count (%d) does not match unique length (%d)",
			r.Stats.UniqueCount, uniqueCount)
	}
	if r.Stats.DuplicateCount != duplicateCount {
		return fmt.Errorf("stats.duplicate_count (%d) does not match duplicate_pairs length (%d)",
			r.Stats.DuplicateCount, duplicateCount)
	}
	if r.Stats.WithinBatchDuplicateCount != withinBatchCount {
		return fmt.Errorf("stats.within_batch_duplicate_count (%d) does not match within_batch_duplicates length (%d)",
			r.Stats.WithinBatchDuplicateCount, withinBatchCount)
	}

	total := uniqueCount + duplicateCount + withinBatchCount + r.Stats.DroppedCount
	if r.Stats.TotalCandidates != total {
		return fmt.Errorf("stats.total_candidates (%d) does not match sum of unique + duplicates + within_batch + dropped (%d)",
			r.Stats.TotalCandidates, total)
	}

	for idx := range r.DuplicatePairs {
		if idx < 0 || idx >= r.Stats.TotalCandidates {
			return fmt.Errorf("duplicate_pairs contains invalid index %d (total: %d)",
				idx, r.Stats.TotalCandidates)
		}
		if _, exists := r.WithinBatchDuplicates[idx]; exists {
			return fmt.Errorf("index %d appears in both duplicate_pairs and within_batch_duplicates", idx)
		}
	}

	for dupIdx, origIdx := range r.WithinBatchDuplicates {
		if dupIdx < 0 || dupIdx >= r.Stats.TotalCandidates {
			return fmt.Errorf("within_batch_duplicates contains invalid duplicate index %d (total: %d)",
				dupIdx, r.Stats.TotalCandidates)
		}
		if origIdx < 0 || dupIdx <= origIdx {
			return fmt.Errorf("within_batch_duplicates: duplicate index %d must be > original index %d",
				dupIdx, origIdx)
		}
		if _, exists := r.WithinBatchDuplicates[origIdx]; exists {
			return fmt.Errorf("within_batch_duplicates references index %d as original, but it is also a duplicate", origIdx)
		}
	}

	return nil
}
