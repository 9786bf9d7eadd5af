package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spiralos/guardian/internal/types"
)

// GetCoherence returns the node's current coherence value, or nil if never set
func (s *SQLiteStorage) GetCoherence(ctx context.Context, nodeID string) (*types.CoherenceReading, error) {
	var (
		reading   types.CoherenceReading
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT node_id, value, updated_at FROM coherence_current WHERE node_id = ?", nodeID,
	).Scan(&reading.NodeID, &reading.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coherence: %w", err)
	}
	reading.UpdatedAt = fromNanos(updatedAt)
	return &reading, nil
}

// SetCoherence overwrites the node's current coherence value
func (s *SQLiteStorage) SetCoherence(ctx context.Context, reading *types.CoherenceReading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coherence_current (node_id, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, reading.NodeID, reading.Value, toNanos(reading.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to set coherence: %w", err)
	}
	return nil
}

// AppendCoherenceHistory records one coherence change
func (s *SQLiteStorage) AppendCoherenceHistory(ctx context.Context, entry *types.CoherenceHistoryEntry) error {
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO coherence_history (node_id, value, delta, source, metadata, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.NodeID, entry.Value, entry.Delta, entry.Source, metadata, toNanos(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append coherence history: %w", err)
	}

	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get coherence history id: %w", err)
	}
	return nil
}

// GetCoherenceHistory returns up to limit entries, newest first
func (s *SQLiteStorage) GetCoherenceHistory(ctx context.Context, nodeID string, limit int) ([]*types.CoherenceHistoryEntry, error) {
	query := `
		SELECT id, node_id, value, delta, source, metadata, ts
		FROM coherence_history WHERE node_id = ?
		ORDER BY ts DESC, id DESC`
	args := []interface{}{nodeID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coherence history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.CoherenceHistoryEntry
	for rows.Next() {
		var (
			entry    types.CoherenceHistoryEntry
			metadata string
			ts       int64
		)
		if err := rows.Scan(&entry.ID, &entry.NodeID, &entry.Value, &entry.Delta, &entry.Source, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan coherence history: %w", err)
		}
		entry.Timestamp = fromNanos(ts)
		if entry.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coherence metadata: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coherence history rows: %w", err)
	}
	return entries, nil
}
