package storage

import (
	"context"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

// TelemetryStore is the read API over the append-only telemetry log plus the
// insert path used by ingestion and by strategies that synthesize samples.
type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, sample *types.TelemetrySample) error
	// GetLatestTelemetry returns (nil, nil) when the node has never reported
	GetLatestTelemetry(ctx context.Context, nodeID string) (*types.TelemetrySample, error)
	// QueryTelemetry returns matching samples, newest first
	QueryTelemetry(ctx context.Context, query types.TelemetryQuery) ([]*types.TelemetrySample, error)
	CountDistinctStates(ctx context.Context, nodeID string, since time.Time) (int, error)
}

// NodeRegistry tracks which nodes exist and which are active
type NodeRegistry interface {
	// RegisterNode inserts the node or updates its name and active flag
	RegisterNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, id string) (*types.Node, error)
	ListActiveNodes(ctx context.Context) ([]*types.Node, error)
	// SetNodeActive returns types.ErrNotFound for unknown nodes
	SetNodeActive(ctx context.Context, id string, active bool) error
}

// CoherenceStore reads and writes the current coherence value (ScarIndex) and its history
type CoherenceStore interface {
	GetCoherence(ctx context.Context, nodeID string) (*types.CoherenceReading, error)
	SetCoherence(ctx context.Context, reading *types.CoherenceReading) error
	AppendCoherenceHistory(ctx context.Context, entry *types.CoherenceHistoryEntry) error
	// GetCoherenceHistory returns up to limit entries, newest first
	GetCoherenceHistory(ctx context.Context, nodeID string, limit int) ([]*types.CoherenceHistoryEntry, error)
}

// AnomalyStore persists anomaly records and their single status transition
type AnomalyStore interface {
	// InsertAnomaly assigns an ID when the anomaly has none
	InsertAnomaly(ctx context.Context, anomaly *types.Anomaly) error
	GetAnomaly(ctx context.Context, id string) (*types.Anomaly, error)
	// FindActiveAnomaly returns the newest ACTIVE anomaly of the given type detected at or after since
	FindActiveAnomaly(ctx context.Context, nodeID string, anomalyType types.AnomalyType, since time.Time) (*types.Anomaly, error)
	// ListAnomalies returns matching anomalies, newest first
	ListAnomalies(ctx context.Context, filter types.AnomalyFilter) ([]*types.Anomaly, error)
	// ResolveAnomaly moves an ACTIVE anomaly to RESOLVED. It returns types.ErrNotFound for
	// unknown IDs and types.ErrAlreadyResolved without touching the record otherwise.
	ResolveAnomaly(ctx context.Context, id string, resolution *types.Resolution) error
}

// ProfileStore persists one correction profile per node
type ProfileStore interface {
	GetProfile(ctx context.Context, nodeID string) (*types.CorrectionProfile, error)
	// UpsertProfile writes the full profile (last writer wins)
	UpsertProfile(ctx context.Context, profile *types.CorrectionProfile) error
}

// HistoryStore is the append-only regulation audit trail
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *types.RegulationHistoryEntry) error
	GetLatestHistory(ctx context.Context, nodeID string) (*types.RegulationHistoryEntry, error)
	// ListHistory returns matching entries, newest first
	ListHistory(ctx context.Context, filter types.HistoryFilter) ([]*types.RegulationHistoryEntry, error)
}

// Storage defines the interface for guardian storage backends
type Storage interface {
	TelemetryStore
	NodeRegistry
	CoherenceStore
	AnomalyStore
	ProfileStore
	HistoryStore

	// Lifecycle
	Close() error
}
