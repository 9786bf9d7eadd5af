package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spiralos/guardian/internal/types"
)

const anomalyColumns = `id, node_id, anomaly_type, severity, status, details, detected_at,
	resolved_at, resolved_by, correction_type`

// InsertAnomaly persists a new anomaly, assigning a UUID when ID is empty
func (s *PostgresStorage) InsertAnomaly(ctx context.Context, anomaly *types.Anomaly) error {
	if anomaly.ID == "" {
		anomaly.ID = uuid.New().String()
	}
	if anomaly.Status == "" {
		anomaly.Status = types.AnomalyActive
	}
	if err := anomaly.Validate(); err != nil {
		return fmt.Errorf("invalid anomaly: %w", err)
	}

	details, err := jsonObject(anomaly.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO anomalies (id, node_id, anomaly_type, severity, status, details, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, anomaly.ID, anomaly.NodeID, string(anomaly.AnomalyType), string(anomaly.Severity),
		string(anomaly.Status), details, anomaly.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// GetAnomaly returns the anomaly or nil if unknown
func (s *PostgresStorage) GetAnomaly(ctx context.Context, id string) (*types.Anomaly, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+anomalyColumns+" FROM anomalies WHERE id = $1", id)
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
func (s *PostgresStorage) FindActiveAnomaly(ctx context.Context, nodeID string, anomalyType types.AnomalyType, since time.Time) (*types.Anomaly, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies
		WHERE node_id = $1 AND anomaly_type = $2 AND status = $3 AND detected_at >= $4
		ORDER BY detected_at DESC LIMIT 1
	`, nodeID, string(anomalyType), string(types.AnomalyActive), since)
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
func (s *PostgresStorage) ListAnomalies(ctx context.Context, filter types.AnomalyFilter) ([]*types.Anomaly, error) {
	var where []string
	var args []interface{}

	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		where = append(where, fmt.Sprintf("node_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.AnomalyType != nil {
		args = append(args, string(*filter.AnomalyType))
		where = append(where, fmt.Sprintf("anomaly_type = $%d", len(args)))
	}

	query := "SELECT " + anomalyColumns + " FROM anomalies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return collectAnomalies(rows)
}

// ResolveAnomaly transitions an ACTIVE anomaly to RESOLVED.
// The status guard in the UPDATE keeps an already-resolved record untouched.
func (s *PostgresStorage) ResolveAnomaly(ctx context.Context, id string, resolution *types.Resolution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE anomalies
		SET status = $1, resolved_at = $2, resolved_by = $3, correction_type = $4
		WHERE id = $5 AND status = $6
	`, string(types.AnomalyResolved), resolution.ResolvedAt, resolution.ResolvedBy,
		string(resolution.CorrectionType), id, string(types.AnomalyActive))
	if err != nil {
		return fmt.Errorf("failed to resolve anomaly: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists int
	err = s.pool.QueryRow(ctx, "SELECT 1 FROM anomalies WHERE id = $1", id).Scan(&exists)
	if isNoRows(err) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check anomaly: %w", err)
	}
	return types.ErrAlreadyResolved
}

func collectAnomalies(rows pgx.Rows) ([]*types.Anomaly, error) {
	defer rows.Close()

	var anomalies []*types.Anomaly
	for rows.Next() {
		var (
			a              types.Anomaly
			anomalyType    string
			severity       string
			status         string
			details        []byte
			resolvedAt     *time.Time
			resolvedBy     *string
			correctionType *string
		)
		err := rows.Scan(&a.ID, &a.NodeID, &anomalyType, &severity, &status, &details,
			&a.DetectedAt, &resolvedAt, &resolvedBy, &correctionType)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.AnomalyType = types.AnomalyType(anomalyType)
		a.Severity = types.Severity(severity)
		a.Status = types.AnomalyStatus(status)

		if a.Details, err = decodeObject(details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomaly details: %w", err)
		}
		if resolvedAt != nil {
			a.Resolution = &types.Resolution{ResolvedAt: *resolvedAt}
			if resolvedBy != nil {
				a.Resolution.ResolvedBy = *resolvedBy
			}
			if correctionType != nil {
				a.Resolution.CorrectionType = types.CorrectionType(*correctionType)
			}
		}
		anomalies = append(anomalies, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomaly rows: %w", err)
	}
	return anomalies, nil
}
