package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spiralos/guardian/internal/types"
)

// RegisterNode inserts a node or updates its name and active flag
func (s *SQLiteStorage) RegisterNode(ctx context.Context, node *types.Node) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, name, is_active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_active = excluded.is_active
	`, node.ID, node.Name, boolToInt(node.IsActive), toNanos(node.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

// GetNode returns the node or nil if unknown
func (s *SQLiteStorage) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var (
		node      types.Node
		active    int
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, is_active, created_at FROM nodes WHERE id = ?", id,
	).Scan(&node.ID, &node.Name, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	node.IsActive = active != 0
	node.CreatedAt = fromNanos(createdAt)
	return &node, nil
}

// ListActiveNodes returns all active nodes ordered by ID
func (s *SQLiteStorage) ListActiveNodes(ctx context.Context) ([]*types.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at FROM nodes WHERE is_active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*types.Node
	for rows.Next() {
		node := &types.Node{IsActive: true}
		var createdAt int64
		if err := rows.Scan(&node.ID, &node.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		node.CreatedAt = fromNanos(createdAt)
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}
	return nodes, nil
}

// SetNodeActive flips the active flag of a registered node
func (s *SQLiteStorage) SetNodeActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE nodes SET is_active = ? WHERE id = ?", boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}
