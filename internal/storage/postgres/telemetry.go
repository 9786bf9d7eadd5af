package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spiralos/guardian/internal/types"
)

// InsertTelemetry appends a telemetry sample and populates its ID
func (s *PostgresStorage) InsertTelemetry(ctx context.Context, sample *types.TelemetrySample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry sample: %w", err)
	}

	payload, err := jsonObject(sample.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var state *string
	if sample.SovereignState != "" {
		state = &sample.SovereignState
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO telemetry (node_id, ts, health_signal, ache_signature, sovereign_state,
			event_type, source, signal_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, sample.NodeID, sample.Timestamp, sample.HealthSignal, sample.AcheSignature, state,
		sample.EventType, sample.Source, sample.SignalType, payload).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// GetLatestTelemetry returns the newest sample for the node, or nil if none exist
func (s *PostgresStorage) GetLatestTelemetry(ctx context.Context, nodeID string) (*types.TelemetrySample, error) {
	samples, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: nodeID, Limit: 1})
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return samples[0], nil
}

// QueryTelemetry returns samples matching the query, newest first
func (s *PostgresStorage) QueryTelemetry(ctx context.Context, query types.TelemetryQuery) ([]*types.TelemetrySample, error) {
	where := []string{"node_id = $1"}
	args := []interface{}{query.NodeID}

	if !query.Since.IsZero() {
		args = append(args, query.Since)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if query.RequireAche {
		where = append(where, "ache_signature IS NOT NULL")
	}
	if query.RequireState {
		where = append(where, "sovereign_state IS NOT NULL")
	}

	sqlQuery := `SELECT id, node_id, ts, health_signal, ache_signature, sovereign_state,
		event_type, source, signal_type, payload
		FROM telemetry WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ts DESC, id DESC`
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var samples []*types.TelemetrySample
	for rows.Next() {
		sample, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry rows: %w", err)
	}
	return samples, nil
}

// CountDistinctStates counts distinct non-null sovereign states since the given instant
func (s *PostgresStorage) CountDistinctStates(ctx context.Context, nodeID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT sovereign_state) FROM telemetry
		WHERE node_id = $1 AND ts >= $2 AND sovereign_state IS NOT NULL
	`, nodeID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct states: %w", err)
	}
	return count, nil
}

func scanTelemetry(rows pgx.Rows) (*types.TelemetrySample, error) {
	var (
		sample  types.TelemetrySample
		state   *string
		payload []byte
	)
	err := rows.Scan(&sample.ID, &sample.NodeID, &sample.Timestamp, &sample.HealthSignal, &sample.AcheSignature,
		&state, &sample.EventType, &sample.Source, &sample.SignalType, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to scan telemetry: %w", err)
	}
	if state != nil {
		sample.SovereignState = *state
	}
	if sample.Payload, err = decodeObject(payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry payload: %w", err)
	}
	return &sample, nil
}

// jsonObject encodes a map for a JSONB column; nil maps encode as {}
func jsonObject(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeObject(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 || string(data) == "{}" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
