package postgres

import (
	"context"
	"fmt"

	"github.com/spiralos/guardian/internal/types"
)

// GetCoherence returns the node's current coherence value, or nil if never set
func (s *PostgresStorage) GetCoherence(ctx context.Context, nodeID string) (*types.CoherenceReading, error) {
	var reading types.CoherenceReading
	err := s.pool.QueryRow(ctx,
		"SELECT node_id, value, updated_at FROM coherence_current WHERE node_id = $1", nodeID,
	).Scan(&reading.NodeID, &reading.Value, &reading.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coherence: %w", err)
	}
	return &reading, nil
}

// SetCoherence overwrites the node's current coherence value
func (s *PostgresStorage) SetCoherence(ctx context.Context, reading *types.CoherenceReading) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coherence_current (node_id, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (node_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, reading.NodeID, reading.Value, reading.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set coherence: %w", err)
	}
	return nil
}

// AppendCoherenceHistory records one coherence change
func (s *PostgresStorage) AppendCoherenceHistory(ctx context.Context, entry *types.CoherenceHistoryEntry) error {
	metadata, err := jsonObject(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO coherence_history (node_id, value, delta, source, metadata, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, entry.NodeID, entry.Value, entry.Delta, entry.Source, metadata, entry.Timestamp).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append coherence history: %w", err)
	}
	return nil
}

// GetCoherenceHistory returns up to limit entries, newest first
func (s *PostgresStorage) GetCoherenceHistory(ctx context.Context, nodeID string, limit int) ([]*types.CoherenceHistoryEntry, error) {
	query := `
		SELECT id, node_id, value, delta, source, metadata, ts
		FROM coherence_history WHERE node_id = $1
		ORDER BY ts DESC, id DESC`
	args := []interface{}{nodeID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coherence history: %w", err)
	}
	defer rows.Close()

	var entries []*types.CoherenceHistoryEntry
	for rows.Next() {
		var (
			entry    types.CoherenceHistoryEntry
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.NodeID, &entry.Value, &entry.Delta, &entry.Source, &metadata, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan coherence history: %w", err)
		}
		if entry.Metadata, err = decodeObject(metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coherence metadata: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coherence history rows: %w", err)
	}
	return entries, nil
}
