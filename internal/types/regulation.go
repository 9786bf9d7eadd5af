package types

import (
	"fmt"
	"time"
)

// CorrectionType names a regulation strategy
type CorrectionType string

const (
	CorrectionNone              CorrectionType = "NONE"
	CorrectionScarIndexRecovery CorrectionType = "SCARINDEX_RECOVERY_PULSE"
	CorrectionSovereignty       CorrectionType = "SOVEREIGNTY_STABILIZER"
	CorrectionAcheBuffer        CorrectionType = "ACHE_BUFFER"
	CorrectionHeartbeat         CorrectionType = "HEARTBEAT_CORRECTION"
	CorrectionEntropy           CorrectionType = "ENTROPY_CORRECTION"
	CorrectionFreeze            CorrectionType = "SELF_PRESERVATION_FREEZE"
)

// IsValid checks if the correction type value is valid
func (c CorrectionType) IsValid() bool {
	switch c {
	case CorrectionNone, CorrectionScarIndexRecovery, CorrectionSovereignty,
		CorrectionAcheBuffer, CorrectionHeartbeat, CorrectionEntropy, CorrectionFreeze:
		return true
	}
	return false
}

// CorrectionFor maps an anomaly type to its primary correction.
// Unmapped types yield CorrectionNone.
func CorrectionFor(t AnomalyType) CorrectionType {
	switch t {
	case AnomalyScarIndexDrop, AnomalyScarIndexLow:
		return CorrectionScarIndexRecovery
	case AnomalySovereigntyInstability:
		return CorrectionSovereignty
	case AnomalyAcheSpike, AnomalyAcheHigh:
		return CorrectionAcheBuffer
	case AnomalyHeartbeatGap, AnomalyHeartbeatMissing:
		return CorrectionHeartbeat
	case AnomalyEntropySpike, AnomalyEntropyHigh:
		return CorrectionEntropy
	}
	return CorrectionNone
}

// RegulationMode records who asked for a correction
type RegulationMode string

const (
	ModeAuto   RegulationMode = "AUTO"
	ModeManual RegulationMode = "MANUAL"
)

// IsValid checks if the mode value is valid
func (m RegulationMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeManual:
		return true
	}
	return false
}

// CorrectionResult is the outcome of one dispatch
type CorrectionResult struct {
	Success        bool           `json:"success"`
	CorrectionType CorrectionType `json:"correction_type"`
	Details        string         `json:"details"`
	CoherenceDelta *float64       `json:"coherence_delta,omitempty"`

	// AffectedEntities lists the nodes a strategy touched
	AffectedEntities []string               `json:"affected_entities,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Skipped builds a failed result for a correction that a gate refused
func Skipped(correction CorrectionType, details string) *CorrectionResult {
	return &CorrectionResult{Success: false, CorrectionType: correction, Details: details}
}

// RegulationHistoryEntry is an append-only audit record of one correction attempt
type RegulationHistoryEntry struct {
	ID             int64                  `json:"id,omitempty"`
	NodeID         string                 `json:"node_id"`
	AnomalyID      string                 `json:"anomaly_id"`
	CorrectionType CorrectionType         `json:"correction_type"`
	Severity       Severity               `json:"severity_level"`
	Mode           RegulationMode         `json:"mode"`
	Payload        map[string]interface{} `json:"payload"`
	Success        bool                   `json:"success"`
	ResultDetails  string                 `json:"result_details"`
	CoherenceDelta *float64               `json:"coherence_delta,omitempty"`
	ExecutedAt     time.Time              `json:"executed_at"`
}

// Validate checks if the history entry has valid field values
func (h *RegulationHistoryEntry) Validate() error {
	if h.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if !h.CorrectionType.IsValid() {
		return fmt.Errorf("invalid correction type: %s", h.CorrectionType)
	}
	if h.Mode != "" && !h.Mode.IsValid() {
		return fmt.Errorf("invalid mode: %s", h.Mode)
	}
	return nil
}

// HistoryFilter is used to filter regulation history listings
type HistoryFilter struct {
	NodeID string
	// AppliedOnly drops attempts that applied no correction (CorrectionNone)
	AppliedOnly bool
	Limit       int
}
