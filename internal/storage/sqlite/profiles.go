package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/spiralos/guardian/internal/types"
)

// GetProfile returns the node's correction profile, or nil if none exists
func (s *SQLiteStorage) GetProfile(ctx context.Context, nodeID string) (*types.CorrectionProfile, error) {
	var (
		profile   types.CorrectionProfile
		preferred string
		metadata  string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT node_id, baseline_coherence, preferred_corrections, correction_budget,
		       cooldown_seconds, metadata, updated_at
		FROM correction_profiles WHERE node_id = ?
	`, nodeID).Scan(&profile.NodeID, &profile.BaselineCoherence, &preferred, &profile.CorrectionBudget,
		&profile.CooldownSeconds, &metadata, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if err := json.Unmarshal([]byte(preferred), &profile.PreferredCorrections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferred corrections: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &profile.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile metadata: %w", err)
	}
	profile.UpdatedAt = fromNanos(updatedAt)
	return &profile, nil
}

// UpsertProfile writes the full profile, replacing any existing row
func (s *SQLiteStorage) UpsertProfile(ctx context.Context, profile *types.CorrectionProfile) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correction_profiles (node_id, baseline_coherence, preferred_corrections,
			correction_budget, cooldown_seconds, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			baseline_coherence = excluded.baseline_coherence,
			preferred_corrections = excluded.preferred_corrections,
			correction_budget = excluded.correction_budget,
			cooldown_seconds = excluded.cooldown_seconds,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, profile.NodeID, profile.BaselineCoherence, string(preferred), profile.CorrectionBudget,
		profile.CooldownSeconds, string(metadata), toNanos(profile.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
