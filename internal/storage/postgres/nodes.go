package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

// RegisterNode inserts a node or updates its name and active flag
func (s *PostgresStorage) RegisterNode(ctx context.Context, node *types.Node) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO nodes (id, name, is_active, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active
	`, node.ID, node.Name, node.IsActive, node.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

// GetNode returns the node or nil if unknown
func (s *PostgresStorage) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, is_active, created_at FROM nodes WHERE id = $1", id,
	).Scan(&node.ID, &node.Name, &node.IsActive, &node.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &node, nil
}

// ListActiveNodes returns all active nodes ordered by ID
func (s *PostgresStorage) ListActiveNodes(ctx context.Context) ([]*types.Node, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, is_active, created_at FROM nodes WHERE is_active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		var node types.Node
		if err := rows.Scan(&node.ID, &node.Name, &node.IsActive, &node.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}
	return nodes, nil
}

// SetNodeActive flips the active flag of a registered node
func (s *PostgresStorage) SetNodeActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE nodes SET is_active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
