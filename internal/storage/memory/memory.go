// Package memory is a thread-safe in-process storage backend.
// Records are copied on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spiralos/guardian/internal/types"
)

// Storage implements the storage interfaces in memory
type Storage struct {
	mu sync.RWMutex

	nodes            map[string]*types.Node
	telemetry        []*types.TelemetrySample
	coherence        map[string]*types.CoherenceReading
	coherenceHistory []*types.CoherenceHistoryEntry
	anomalies        map[string]*types.Anomaly
	anomalyOrder     []string
	profiles         map[string]*types.CorrectionProfile
	history          []*types.RegulationHistoryEntry

	nextTelemetryID int64
	nextCoherenceID int64
	nextHistoryID   int64
}

// New creates an empty in-memory store
func New() *Storage {
	return &Storage{
		nodes:     make(map[string]*types.Node),
		coherence: make(map[string]*types.CoherenceReading),
		anomalies: make(map[string]*types.Anomaly),
		profiles:  make(map[string]*types.CorrectionProfile),
	}
}

// Close is a no-op
func (s *Storage) Close() error {
	return nil
}

// Telemetry

func (s *Storage) InsertTelemetry(ctx context.Context, sample *types.TelemetrySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTelemetryID++
	sample.ID = s.nextTelemetryID
	s.telemetry = append(s.telemetry, copySample(sample))
	return nil
}

func (s *Storage) GetLatestTelemetry(ctx context.Context, nodeID string) (*types.TelemetrySample, error) {
	samples, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: nodeID, Limit: 1})
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return samples[0], nil
}

func (s *Storage) QueryTelemetry(ctx context.Context, query types.TelemetryQuery) ([]*types.TelemetrySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.TelemetrySample
	for _, sample := range s.telemetry {
		if sample.NodeID != query.NodeID {
			continue
		}
		if !query.Since.IsZero() && sample.Timestamp.Before(query.Since) {
			continue
		}
		if query.RequireAche && sample.AcheSignature == nil {
			continue
		}
		if query.RequireState && sample.SovereignState == "" {
			continue
		}
		out = append(out, copySample(sample))
	}

	// Newest first; later inserts win ties
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Storage) CountDistinctStates(ctx context.Context, nodeID string, since time.Time) (int, error) {
	samples, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: nodeID, Since: since, RequireState: true})
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, sample := range samples {
		seen[sample.SovereignState] = struct{}{}
	}
	return len(seen), nil
}

// Nodes

func (s *Storage) RegisterNode(ctx context.Context, node *types.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := *node
	if existing, ok := s.nodes[node.ID]; ok {
		n.CreatedAt = existing.CreatedAt
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.nodes[node.ID] = &n
	node.CreatedAt = n.CreatedAt
	return nil
}

func (s *Storage) GetNode(ctx context.Context, id string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	out := *n
	return &out, nil
}

func (s *Storage) ListActiveNodes(ctx context.Context) ([]*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Node
	for _, n := range s.nodes {
		if n.IsActive {
			node := *n
			out = append(out, &node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Storage) SetNodeActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return types.ErrNotFound
	}
	n.IsActive = active
	return nil
}

// Coherence

func (s *Storage) GetCoherence(ctx context.Context, nodeID string) (*types.CoherenceReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.coherence[nodeID]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *Storage) SetCoherence(ctx context.Context, reading *types.CoherenceReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *reading
	s.coherence[reading.NodeID] = &r
	return nil
}

func (s *Storage) AppendCoherenceHistory(ctx context.Context, entry *types.CoherenceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCoherenceID++
	entry.ID = s.nextCoherenceID
	e := *entry
	e.Metadata = copyMap(entry.Metadata)
	s.coherenceHistory = append(s.coherenceHistory, &e)
	return nil
}

func (s *Storage) GetCoherenceHistory(ctx context.Context, nodeID string, limit int) ([]*types.CoherenceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.CoherenceHistoryEntry
	for i := len(s.coherenceHistory) - 1; i >= 0; i-- {
		e := s.coherenceHistory[i]
		if e.NodeID != nodeID {
			continue
		}
		entry := *e
		entry.Metadata = copyMap(e.Metadata)
		out = append(out, &entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Anomalies

func (s *Storage) InsertAnomaly(ctx context.Context, anomaly *types.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if anomaly.ID == "" {
		anomaly.ID = uuid.New().String()
	}
	if anomaly.Status == "" {
		anomaly.Status = types.AnomalyActive
	}
	s.anomalies[anomaly.ID] = copyAnomaly(anomaly)
	s.anomalyOrder = append(s.anomalyOrder, anomaly.ID)
	return nil
}

func (s *Storage) GetAnomaly(ctx context.Context, id string) (*types.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.anomalies[id]
	if !ok {
		return nil, nil
	}
	return copyAnomaly(a), nil
}

func (s *Storage) FindActiveAnomaly(ctx context.Context, nodeID string, anomalyType types.AnomalyType, since time.Time) (*types.Anomaly, error) {
	status := types.AnomalyActive
	found, err := s.ListAnomalies(ctx, types.AnomalyFilter{NodeID: nodeID, Status: &status, AnomalyType: &anomalyType})
	if err != nil {
		return nil, err
	}
	for _, a := range found {
		if !a.DetectedAt.Before(since) {
			return a, nil
		}
	}
	return nil, nil
}

func (s *Storage) ListAnomalies(ctx context.Context, filter types.AnomalyFilter) ([]*types.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Anomaly
	for _, id := range s.anomalyOrder {
		a := s.anomalies[id]
		if filter.NodeID != "" && a.NodeID != filter.NodeID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.AnomalyType != nil && a.AnomalyType != *filter.AnomalyType {
			continue
		}
		out = append(out, copyAnomaly(a))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Storage) ResolveAnomaly(ctx context.Context, id string, resolution *types.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.anomalies[id]
	if !ok {
		return types.ErrNotFound
	}
	if a.Status != types.AnomalyActive {
		return types.ErrAlreadyResolved
	}
	a.Status = types.AnomalyResolved
	r := *resolution
	a.Resolution = &r
	return nil
}

// Profiles

func (s *Storage) GetProfile(ctx context.Context, nodeID string) (*types.CorrectionProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[nodeID]
	if !ok {
		return nil, nil
	}
	return copyProfile(p), nil
}

func (s *Storage) UpsertProfile(ctx context.Context, profile *types.CorrectionProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.NodeID] = copyProfile(profile)
	return nil
}

// Regulation history

func (s *Storage) AppendHistory(ctx context.Context, entry *types.RegulationHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHistoryID++
	entry.ID = s.nextHistoryID
	e := *entry
	e.Payload = copyMap(entry.Payload)
	s.history = append(s.history, &e)
	return nil
}

func (s *Storage) GetLatestHistory(ctx context.Context, nodeID string) (*types.RegulationHistoryEntry, error) {
	entries, err := s.ListHistory(ctx, types.HistoryFilter{NodeID: nodeID, Limit: 1})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (s *Storage) ListHistory(ctx context.Context, filter types.HistoryFilter) ([]*types.RegulationHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.RegulationHistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if filter.NodeID != "" && h.NodeID != filter.NodeID {
			continue
		}
		if filter.AppliedOnly && h.CorrectionType == types.CorrectionNone {
			continue
		}
		e := *h
		e.Payload = copyMap(h.Payload)
		out = append(out, &e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func copySample(in *types.TelemetrySample) *types.TelemetrySample {
	out := *in
	if in.HealthSignal != nil {
		out.HealthSignal = types.Float64(*in.HealthSignal)
	}
	if in.AcheSignature != nil {
		out.AcheSignature = types.Float64(*in.AcheSignature)
	}
	out.Payload = copyMap(in.Payload)
	return &out
}

func copyAnomaly(in *types.Anomaly) *types.Anomaly {
	out := *in
	out.Details = copyMap(in.Details)
	if in.Resolution != nil {
		r := *in.Resolution
		out.Resolution = &r
	}
	return &out
}

func copyProfile(in *types.CorrectionProfile) *types.CorrectionProfile {
	out := *in
	out.PreferredCorrections = append([]types.CorrectionType(nil), in.PreferredCorrections...)
	if in.Metadata.TightenedThresholds != nil {
		t := *in.Metadata.TightenedThresholds
		out.Metadata.TightenedThresholds = &t
	}
	return &out
}

// copyMap is shallow; nested values are treated as immutable
func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
