package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// UpsertNode inserts a node or, when (user_id, name, type) already exists,
// refreshes its last_updated. The stored row is returned either way.
func (s *Store) UpsertNode(ctx context.Context, node *types.GraphNode) (*types.GraphNode, error) {
	if node == nil || node.UserID == "" || node.Name == "" || node.Type == "" {
		return nil, storage.ErrInvalidInput
	}
	id := node.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := node.LastUpdated
	if now.IsZero() {
		now = time.Now().UTC()
	}

	out := types.GraphNode{UserID: node.UserID, Name: node.Name, Type: node.Type}
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO graph_nodes (id, user_id, name, type, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name, type) DO UPDATE SET last_updated = excluded.last_updated
		RETURNING id, created_at, last_updated`,
		id, node.UserID, node.Name, node.Type, encodeTime(now), encodeTime(now),
	).Scan(&out.ID, &created, &updated)
	if err != nil {
		return nil, wrapErr("upsert node", err)
	}
	if out.CreatedAt, err = decodeTime(created); err != nil {
		return nil, wrapErr("decode node", err)
	}
	if out.LastUpdated, err = decodeTime(updated); err != nil {
		return nil, wrapErr("decode node", err)
	}
	return &out, nil
}

// UpsertEdge inserts or updates an edge keyed by (source, target,
// relationship). Both endpoints must exist and belong to edge.UserID;
// otherwise nothing is written and ErrInvalidInput is returned.
func (s *Store) UpsertEdge(ctx context.Context, edge *types.GraphEdge) (*types.GraphEdge, error) {
	if edge == nil || edge.UserID == "" || edge.Relationship == "" {
		return nil, storage.ErrInvalidInput
	}
	id := edge.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := edge.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	strength := types.ClampStrength(edge.Strength)

	out := types.GraphEdge{
		UserID: edge.UserID, SourceID: edge.SourceID, TargetID: edge.TargetID,
		Relationship: edge.Relationship,
	}
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO graph_edges (id, user_id, source_id, target_id, relationship, strength, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM graph_nodes WHERE id = ? AND user_id = ?)
		  AND EXISTS (SELECT 1 FROM graph_nodes WHERE id = ? AND user_id = ?)
		ON CONFLICT(source_id, target_id, relationship)
		DO UPDATE SET strength = excluded.strength, updated_at = excluded.updated_at
		RETURNING id, strength, created_at, updated_at`,
		id, edge.UserID, edge.SourceID, edge.TargetID, edge.Relationship, strength,
		encodeTime(now), encodeTime(now),
		edge.SourceID, edge.UserID, edge.TargetID, edge.UserID,
	).Scan(&out.ID, &out.Strength, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrInvalidInput
	}
	if err != nil {
		return nil, wrapErr("upsert edge", err)
	}
	if out.CreatedAt, err = decodeTime(created); err != nil {
		return nil, wrapErr("decode edge", err)
	}
	if out.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, wrapErr("decode edge", err)
	}
	return &out, nil
}

// ListNodes returns a user's nodes ordered by name then type.
func (s *Store) ListNodes(ctx context.Context, userID string) ([]*types.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, created_at, last_updated
		FROM graph_nodes WHERE user_id = ? ORDER BY name, type`, userID)
	if err != nil {
		return nil, wrapErr("list nodes", err)
	}
	defer rows.Close()

	var out []*types.GraphNode
	for rows.Next() {
		var (
			n                types.GraphNode
			created, updated string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Name, &n.Type, &created, &updated); err != nil {
			return nil, wrapErr("scan node", err)
		}
		if n.CreatedAt, err = decodeTime(created); err != nil {
			return nil, wrapErr("decode node", err)
		}
		if n.LastUpdated, err = decodeTime(updated); err != nil {
			return nil, wrapErr("decode node", err)
		}
		out = append(out, &n)
	}
	return out, wrapErr("iterate nodes", rows.Err())
}

// ListEdges returns a user's edges, oldest first.
func (s *Store) ListEdges(ctx context.Context, userID string) ([]*types.GraphEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source_id, target_id, relationship, strength, created_at, updated_at
		FROM graph_edges WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, wrapErr("list edges", err)
	}
	defer rows.Close()

	var out []*types.GraphEdge
	for rows.Next() {
		var (
			e                types.GraphEdge
			created, updated string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceID, &e.TargetID, &e.Relationship, &e.Strength, &created, &updated); err != nil {
			return nil, wrapErr("scan edge", err)
		}
		if e.CreatedAt, err = decodeTime(created); err != nil {
			return nil, wrapErr("decode edge", err)
		}
		if e.UpdatedAt, err = decodeTime(updated); err != nil {
			return nil, wrapErr("decode edge", err)
		}
		out = append(out, &e)
	}
	return out, wrapErr("iterate edges", rows.Err())
}
