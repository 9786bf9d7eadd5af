package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spiralos/guardian/internal/types"
)

// GetProfile returns the node's correction profile, or nil if none exists
func (s *PostgresStorage) GetProfile(ctx context.Context, nodeID string) (*types.CorrectionProfile, error) {
	var (
		profile   types.CorrectionProfile
		preferred []byte
		metadata  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT node_id, baseline_coherence, preferred_corrections, correction_budget,
		       cooldown_seconds, metadata, updated_at
		FROM correction_profiles WHERE node_id = $1
	`, nodeID).Scan(&profile.NodeID, &profile.BaselineCoherence, &preferred, &profile.CorrectionBudget,
		&profile.CooldownSeconds, &metadata, &profile.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if err := json.Unmarshal(preferred, &profile.PreferredCorrections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferred corrections: %w", err)
	}
	if err := json.Unmarshal(metadata, &profile.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile metadata: %w", err)
	}
	return &profile, nil
}

// UpsertProfile writes the full profile, replacing any existing row
func (s *PostgresStorage) UpsertProfile(ctx context.Context, profile *types.CorrectionProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	preferred, err := json.Marshal(profile.PreferredCorrections)
	if err != nil {
		return fmt.Errorf("failed to marshal preferred corrections: %w", err)
	}
	metadata, err := json.Marshal(profile.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal profile metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO correction_profiles (node_id, baseline_coherence, preferred_corrections,
			correction_budget, cooldown_seconds, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (node_id) DO UPDATE SET
			baseline_coherence = EXCLUDED.baseline_coherence,
			preferred_corrections = EXCLUDED.preferred_corrections,
			correction_budget = EXCLUDED.correction_budget,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, profile.NodeID, profile.BaselineCoherence, string(preferred), profile.CorrectionBudget,
		profile.CooldownSeconds, string(metadata), profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
