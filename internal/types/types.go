package types

import (
	"fmt"
	"time"
)

// Node is a monitored logical unit (a "bridge") registered with the engine
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the node has valid field values
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	return nil
}

// TelemetrySample is one immutable telemetry event emitted by a node.
// Nullable signals are pointers; an empty SovereignState means no state label.
type TelemetrySample struct {
	ID             int64                  `json:"id,omitempty"`
	NodeID         string                 `json:"node_id"`
	Timestamp      time.Time              `json:"timestamp"`
	HealthSignal   *float64               `json:"health_signal,omitempty"`
	AcheSignature  *float64               `json:"ache_signature,omitempty"`
	SovereignState string                 `json:"sovereign_state,omitempty"`
	EventType      string                 `json:"event_type"`
	Source         string                 `json:"source"`
	SignalType     string                 `json:"signal_type,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// Validate checks if the telemetry sample has valid field values
func (s *TelemetrySample) Validate() error {
	if s.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if s.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if s.HealthSignal != nil && !inUnitRange(*s.HealthSignal) {
		return fmt.Errorf("health_signal must be between 0 and 1 (got %.4f)", *s.HealthSignal)
	}
	if s.AcheSignature != nil && !inUnitRange(*s.AcheSignature) {
		return fmt.Errorf("ache_signature must be between 0 and 1 (got %.4f)", *s.AcheSignature)
	}
	return nil
}

// TelemetryQuery selects recent telemetry for one node.
// Results are always ordered newest first.
type TelemetryQuery struct {
	NodeID string
	// Since drops samples older than this instant (zero = no lower bound)
	Since time.Time
	// Limit caps the number of samples returned (0 = no limit)
	Limit int
	// RequireAche drops samples without an ache signature
	RequireAche bool
	// RequireState drops samples without a sovereign state label
	RequireState bool
}

// CoherenceReading is the current coherence value (ScarIndex) of a node
type CoherenceReading struct {
	NodeID    string    `json:"node_id"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CoherenceHistoryEntry is one append-only record of a coherence value change
type CoherenceHistoryEntry struct {
	ID        int64                  `json:"id,omitempty"`
	NodeID    string                 `json:"node_id"`
	Value     float64                `json:"value"`
	Delta     float64                `json:"delta"`
	Source    string                 `json:"source"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Float64 returns a pointer to v, for populating nullable telemetry signals
func Float64(v float64) *float64 {
	return &v
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
