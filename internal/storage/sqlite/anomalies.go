package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spiralos/guardian/internal/types"
)

const anomalyColumns = `id, node_id, anomaly_type, severity, status, details, detected_at,
	resolved_at, resolved_by, correction_type`

// InsertAnomaly persists a new anomaly, assigning a UUID when ID is empty
func (s *SQLiteStorage) InsertAnomaly(ctx context.Context, anomaly *types.Anomaly) error {
	if anomaly.ID == "" {
		anomaly.ID = uuid.New().String()
	}
	if anomaly.Status == "" {
		anomaly.Status = types.AnomalyActive
	}
	if err := anomaly.Validate(); err != nil {
		return fmt.Errorf("invalid anomaly: %w", err)
	}

	details, err := marshalJSON(anomaly.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, node_id, anomaly_type, severity, status, details, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, anomaly.ID, anomaly.NodeID, string(anomaly.AnomalyType), string(anomaly.Severity),
		string(anomaly.Status), details, toNanos(anomaly.DetectedAt))
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// GetAnomaly returns the anomaly or nil if unknown
func (s *SQLiteStorage) GetAnomaly(ctx context.Context, id string) (*types.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+anomalyColumns+" FROM anomalies WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	anomalies, err := collectAnomalies(rows)
	if err != nil || len(anomalies) == 0 {
		return nil, err
	}
	return anomalies[0], nil
}

// FindActiveAnomaly returns the newest ACTIVE anomaly of the type detected at or after since
func (s *SQLiteStorage) FindActiveAnomaly(ctx context.Context, nodeID string, anomalyType types.AnomalyType, since time.Time) (*types.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies
		WHERE node_id = ? AND anomaly_type = ? AND status = ? AND detected_at >= ?
		ORDER BY detected_at DESC LIMIT 1
	`, nodeID, string(anomalyType), string(types.AnomalyActive), toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query active anomaly: %w", err)
	}
	anomalies, err := collectAnomalies(rows)
	if err != nil || len(anomalies) == 0 {
		return nil, err
	}
	return anomalies[0], nil
}

// ListAnomalies returns anomalies matching the filter, newest first
func (s *SQLiteStorage) ListAnomalies(ctx context.Context, filter types.AnomalyFilter) ([]*types.Anomaly, error) {
	var where []string
	var args []interface{}

	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.AnomalyType != nil {
		where = append(where, "anomaly_type = ?")
		args = append(args, string(*filter.AnomalyType))
	}

	query := "SELECT " + anomalyColumns + " FROM anomalies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return collectAnomalies(rows)
}

// ResolveAnomaly transitions an ACTIVE anomaly to RESOLVED.
// The status guard in the UPDATE keeps an already-resolved record untouched.
func (s *SQLiteStorage) ResolveAnomaly(ctx context.Context, id string, resolution *types.Resolution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE anomalies
		SET status = ?, resolved_at = ?, resolved_by = ?, correction_type = ?
		WHERE id = ? AND status = ?
	`, string(types.AnomalyResolved), toNanos(resolution.ResolvedAt), resolution.ResolvedBy,
		string(resolution.CorrectionType), id, string(types.AnomalyActive))
	if err != nil {
		return fmt.Errorf("failed to resolve anomaly: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish unknown from already resolved
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM anomalies WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check anomaly: %w", err)
	}
	return types.ErrAlreadyResolved
}

func collectAnomalies(rows *sql.Rows) ([]*types.Anomaly, error) {
	defer func() { _ = rows.Close() }()

	var anomalies []*types.Anomaly
	for rows.Next() {
		var (
			a              types.Anomaly
			details        string
			detectedAt     int64
			resolvedAt     sql.NullInt64
			resolvedBy     sql.NullString
			correctionType sql.NullString
		)
		err := rows.Scan(&a.ID, &a.NodeID, &a.AnomalyType, &a.Severity, &a.Status, &details,
			&detectedAt, &resolvedAt, &resolvedBy, &correctionType)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}

		a.DetectedAt = fromNanos(detectedAt)
		if a.Details, err = unmarshalMap(details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomaly details: %w", err)
		}
		if at := nullNanos(resolvedAt); at != nil {
			a.Resolution = &types.Resolution{
				ResolvedAt:     *at,
				ResolvedBy:     resolvedBy.String,
				CorrectionType: types.CorrectionType(correctionType.String),
			}
		}
		anomalies = append(anomalies, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomaly rows: %w", err)
	}
	return anomalies, nil
}
