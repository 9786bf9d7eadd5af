package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/spiralos/guardian/internal/types"
)

// AppendHistory records one regulation attempt and populates its ID
func (s *PostgresStorage) AppendHistory(ctx context.Context, entry *types.RegulationHistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid history entry: %w", err)
	}

	payload, err := jsonObject(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO regulation_history (node_id, anomaly_id, correction_type, severity_level, mode,
			payload, success, result_details, coherence_delta, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, entry.NodeID, entry.AnomalyID, string(entry.CorrectionType), string(entry.Severity), string(entry.Mode),
		payload, entry.Success, entry.ResultDetails, entry.CoherenceDelta, entry.ExecutedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append regulation history: %w", err)
	}
	return nil
}

// GetLatestHistory returns the node's most recent regulation attempt, or nil if none
func (s *PostgresStorage) GetLatestHistory(ctx context.Context, nodeID string) (*types.RegulationHistoryEntry, error) {
	entries, err := s.ListHistory(ctx, types.HistoryFilter{NodeID: nodeID, Limit: 1})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// ListHistory returns regulation attempts, newest first
func (s *PostgresStorage) ListHistory(ctx context.Context, filter types.HistoryFilter) ([]*types.RegulationHistoryEntry, error) {
	query := `
		SELECT id, node_id, anomaly_id, correction_type, severity_level, mode, payload,
		       success, result_details, coherence_delta, executed_at
		FROM regulation_history`
	var (
		where []string
		args  []interface{}
	)
	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		where = append(where, fmt.Sprintf("node_id = $%d", len(args)))
	}
	if filter.AppliedOnly {
		args = append(args, string(types.CorrectionNone))
		where = append(where, fmt.Sprintf("correction_type <> $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query regulation history: %w", err)
	}
	defer rows.Close()

	var entries []*types.RegulationHistoryEntry
	for rows.Next() {
		var (
			entry          types.RegulationHistoryEntry
			correctionType string
			severity       string
			mode           string
			payload        []byte
		)
		err := rows.Scan(&entry.ID, &entry.NodeID, &entry.AnomalyID, &correctionType, &severity, &mode,
			&payload, &entry.Success, &entry.ResultDetails, &entry.CoherenceDelta, &entry.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regulation history: %w", err)
		}
		entry.CorrectionType = types.CorrectionType(correctionType)
		entry.Severity = types.Severity(severity)
		entry.Mode = types.RegulationMode(mode)
		if entry.Payload, err = decodeObject(payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history payload: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regulation history rows: %w", err)
	}
	return entries, nil
}
