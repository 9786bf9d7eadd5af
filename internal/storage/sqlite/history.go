package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spiralos/guardian/internal/types"
)

// AppendHistory records one regulation attempt and populates its ID
func (s *SQLiteStorage) AppendHistory(ctx context.Context, entry *types.RegulationHistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid history entry: %w", err)
	}

	payload, err := marshalJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO regulation_history (node_id, anomaly_id, correction_type, severity_level, mode,
			payload, success, result_details, coherence_delta, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.NodeID, entry.AnomalyID, string(entry.CorrectionType), string(entry.Severity), string(entry.Mode),
		payload, boolToInt(entry.Success), entry.ResultDetails, floatArg(entry.CoherenceDelta),
		toNanos(entry.ExecutedAt))
	if err != nil {
		return fmt.Errorf("failed to append regulation history: %w", err)
	}

	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get history id: %w", err)
	}
	return nil
}

// GetLatestHistory returns the node's most recent regulation attempt, or nil if none
func (s *SQLiteStorage) GetLatestHistory(ctx context.Context, nodeID string) (*types.RegulationHistoryEntry, error) {
	entries, err := s.ListHistory(ctx, types.HistoryFilter{NodeID: nodeID, Limit: 1})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// ListHistory returns regulation attempts, newest first
func (s *SQLiteStorage) ListHistory(ctx context.Context, filter types.HistoryFilter) ([]*types.RegulationHistoryEntry, error) {
	query := `
		SELECT id, node_id, anomaly_id, correction_type, severity_level, mode, payload,
		       success, result_details, coherence_delta, executed_at
		FROM regulation_history`
	var (
		where []string
		args  []interface{}
	)
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.AppliedOnly {
		where = append(where, "correction_type <> ?")
		args = append(args, string(types.CorrectionNone))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query regulation history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.RegulationHistoryEntry
	for rows.Next() {
		var (
			entry      types.RegulationHistoryEntry
			payload    string
			success    int
			delta      sql.NullFloat64
			executedAt int64
		)
		err := rows.Scan(&entry.ID, &entry.NodeID, &entry.AnomalyID, &entry.CorrectionType, &entry.Severity,
			&entry.Mode, &payload, &success, &entry.ResultDetails, &delta, &executedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regulation history: %w", err)
		}
		entry.Success = success != 0
		entry.CoherenceDelta = nullFloat(delta)
		entry.ExecutedAt = fromNanos(executedAt)
		if entry.Payload, err = unmarshalMap(payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history payload: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regulation history rows: %w", err)
	}
	return entries, nil
}
