package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

const telemetryColumns = `id, node_id, ts, health_signal, ache_signature, sovereign_state,
	event_type, source, signal_type, payload`

// InsertTelemetry appends a telemetry sample and populates its ID
func (s *SQLiteStorage) InsertTelemetry(ctx context.Context, sample *types.TelemetrySample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry sample: %w", err)
	}

	payload, err := marshalJSON(sample.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var state interface{}
	if sample.SovereignState != "" {
		state = sample.SovereignState
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (node_id, ts, health_signal, ache_signature, sovereign_state,
			event_type, source, signal_type, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sample.NodeID, toNanos(sample.Timestamp), floatArg(sample.HealthSignal), floatArg(sample.AcheSignature),
		state, sample.EventType, sample.Source, sample.SignalType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get telemetry id: %w", err)
	}
	sample.ID = id
	return nil
}

// GetLatestTelemetry returns the newest sample for the node, or nil if none exist
func (s *SQLiteStorage) GetLatestTelemetry(ctx context.Context, nodeID string) (*types.TelemetrySample, error) {
	samples, err := s.QueryTelemetry(ctx, types.TelemetryQuery{NodeID: nodeID, Limit: 1})
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return samples[0], nil
}

// QueryTelemetry returns samples matching the query, newest first
func (s *SQLiteStorage) QueryTelemetry(ctx context.Context, query types.TelemetryQuery) ([]*types.TelemetrySample, error) {
	where := []string{"node_id = ?"}
	args := []interface{}{query.NodeID}

	if !query.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toNanos(query.Since))
	}
	if query.RequireAche {
		where = append(where, "ache_signature IS NOT NULL")
	}
	if query.RequireState {
		where = append(where, "sovereign_state IS NOT NULL")
	}

	sqlQuery := fmt.Sprintf("SELECT %s FROM telemetry WHERE %s ORDER BY ts DESC, id DESC",
		telemetryColumns, strings.Join(where, " AND "))
	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLiteStorage) CountDistinctStates(ctx context.Context, nodeID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT sovereign_state) FROM telemetry
		WHERE node_id = ? AND ts >= ? AND sovereign_state IS NOT NULL
	`, nodeID, toNanos(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct states: %w", err)
	}
	return count, nil
}

func scanTelemetry(rows *sql.Rows) (*types.TelemetrySample, error) {
	var (
		sample  types.TelemetrySample
		ts      int64
		health  sql.NullFloat64
		ache    sql.NullFloat64
		state   sql.NullString
		payload string
	)
	err := rows.Scan(&sample.ID, &sample.NodeID, &ts, &health, &ache, &state,
		&sample.EventType, &sample.Source, &sample.SignalType, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to scan telemetry: %w", err)
	}

	sample.Timestamp = fromNanos(ts)
	sample.HealthSignal = nullFloat(health)
	sample.AcheSignature = nullFloat(ache)
	if state.Valid {
		sample.SovereignState = state.String
	}
	if sample.Payload, err = unmarshalMap(payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry payload: %w", err)
	}
	return &sample, nil
}
