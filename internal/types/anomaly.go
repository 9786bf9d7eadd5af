package types

import (
	"fmt"
	"time"
)

// AnomalyType classifies a degradation found by a detector.
// The *_LOW/_HIGH/_MISSING variants are accepted aliases that older producers emit;
// the detectors only ever create the five primary types.
type AnomalyType string

const (
	AnomalyHeartbeatGap           AnomalyType = "HEARTBEAT_GAP"
	AnomalyAcheSpike              AnomalyType = "ACHE_SPIKE"
	AnomalyScarIndexDrop          AnomalyType = "SCARINDEX_DROP"
	AnomalySovereigntyInstability AnomalyType = "SOVEREIGNTY_INSTABILITY"
	AnomalyEntropySpike           AnomalyType = "ENTROPY_SPIKE"

	AnomalyScarIndexLow     AnomalyType = "SCARINDEX_LOW"
	AnomalyAcheHigh         AnomalyType = "ACHE_HIGH"
	AnomalyHeartbeatMissing AnomalyType = "HEARTBEAT_MISSING"
	AnomalyEntropyHigh      AnomalyType = "ENTROPY_HIGH"
)

// DetectedAnomalyTypes lists the types produced by the detector set
var DetectedAnomalyTypes = []AnomalyType{
	AnomalyHeartbeatGap,
	AnomalyAcheSpike,
	AnomalyScarIndexDrop,
	AnomalySovereigntyInstability,
	AnomalyEntropySpike,
}

// IsValid checks if the anomaly type value is valid
func (t AnomalyType) IsValid() bool {
	switch t {
	case AnomalyHeartbeatGap, AnomalyAcheSpike, AnomalyScarIndexDrop,
		AnomalySovereigntyInstability, AnomalyEntropySpike,
		AnomalyScarIndexLow, AnomalyAcheHigh, AnomalyHeartbeatMissing, AnomalyEntropyHigh:
		return true
	}
	return false
}

// Severity is the urgency of an anomaly
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities numerically (higher is more urgent).
// Unknown severities rank below MEDIUM.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// TriggersRegulation reports whether an anomaly of this severity starts auto-regulation
func (s Severity) TriggersRegulation() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// AnomalyStatus is the lifecycle state of an anomaly record
type AnomalyStatus string

const (
	AnomalyActive   AnomalyStatus = "ACTIVE"
	AnomalyResolved AnomalyStatus = "RESOLVED"
)

// IsValid checks if the status value is valid
func (s AnomalyStatus) IsValid() bool {
	switch s {
	case AnomalyActive, AnomalyResolved:
		return true
	}
	return false
}

// Anomaly is a persisted detector finding.
// Records are never deleted; the only mutation is ACTIVE -> RESOLVED.
type Anomaly struct {
	ID          string                 `json:"id"`
	NodeID      string                 `json:"node_id"`
	AnomalyType AnomalyType            `json:"anomaly_type"`
	Severity    Severity               `json:"severity"`
	Status      AnomalyStatus          `json:"status"`
	Details     map[string]interface{} `json:"details"`
	DetectedAt  time.Time              `json:"detected_at"`
	Resolution  *Resolution            `json:"resolution,omitempty"`
}

// Resolution annotates an anomaly that auto-regulation resolved
type Resolution struct {
	ResolvedAt     time.Time      `json:"resolved_at"`
	ResolvedBy     string         `json:"resolved_by"`
	CorrectionType CorrectionType `json:"correction_type"`
}

// ResolverAutoRegulation is the resolver recorded for engine-driven resolutions
const ResolverAutoRegulation = "auto_regulation"

// Validate checks if the anomaly has valid field values
func (a *Anomaly) Validate() error {
	if a.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if !a.AnomalyType.IsValid() {
		return fmt.Errorf("invalid anomaly type: %s", a.AnomalyType)
	}
	if !a.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	if a.Status == AnomalyResolved && a.Resolution == nil {
		return fmt.Errorf("resolved anomaly requires resolution metadata")
	}
	return nil
}

// IsActive reports whether the anomaly is still awaiting correction
func (a *Anomaly) IsActive() bool {
	return a.Status == AnomalyActive
}

// AnomalyFilter is used to filter anomaly listings
type AnomalyFilter struct {
	NodeID      string
	Status      *AnomalyStatus
	AnomalyType *AnomalyType
	Limit       int
}
