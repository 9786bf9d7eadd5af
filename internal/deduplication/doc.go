// Package deduplication suppresses repeated anomaly records.
//
// # Overview
//
// Detectors are stateless: a node that stays unhealthy produces the same finding on
// every scan. Before the scanner persists a finding, the gate looks for an ACTIVE
// anomaly of the same (node, type) detected within the suppression window (60 minutes
// by default). If one exists the finding is logged and dropped.
//
// # Consistency
//
// The check is a read followed by a separate insert. Two scans of the same node that
// overlap can both pass the gate and insert twice. This is accepted: the requirement
// is effectively-once per incident within a window, and the cooldown gate in the
// regulation package catches the resulting double correction.
//
// # Usage
//
//	gate, err := deduplication.NewGate(store, deduplication.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("failed to create dedup gate: %w", err)
//	}
//
//	result, err := gate.DeduplicateBatch(ctx, findings)
//	if err != nil {
//	    return err
//	}
//	for _, anomaly := range result.Unique {
//	    store.InsertAnomaly(ctx, anomaly)
//	}
//
// # Error Handling
//
// With FailOpen (the default) a store lookup failure admits the finding: a duplicate
// record is cheaper than a missed incident. With FailOpen=false the lookup error is
// returned and the caller drops the finding.
package deduplication
