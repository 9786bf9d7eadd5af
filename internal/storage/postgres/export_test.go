package postgres

import "context"

// Truncate empties every guardian table so each test starts clean
func Truncate(ctx context.Context, s *PostgresStorage) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE TABLE regulation_history, correction_profiles, anomalies,
			coherence_history, coherence_current, telemetry, nodes RESTART IDENTITY
	`)
	return err
}
