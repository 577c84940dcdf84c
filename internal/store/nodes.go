package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Node types.
const (
	NodeUser    = "user"
	NodeChannel = "channel"
	NodeTopic   = "topic"
	NodeConcept = "concept"
	NodeEvent   = "event"
)

// ValidNodeTypes is the closed set of node types the schema accepts.
var ValidNodeTypes = map[string]bool{
	NodeUser: true, NodeChannel: true, NodeTopic: true, NodeConcept: true, NodeEvent: true,
}

// Node is a typed entity within a community.
type Node struct {
	ID          int64    `json:"id" yaml:"id"`
	CommunityID string   `json:"community_id" yaml:"community_id"`
	ExternalKey string   `json:"external_key" yaml:"external_key"`
	Type        string   `json:"type" yaml:"type"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Metadata    Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   int64    `json:"created_at" yaml:"created_at"`
	UpdatedAt   int64    `json:"updated_at" yaml:"updated_at"`
}

// NodeInput identifies a node to find or create.
type NodeInput struct {
	Key      string   `json:"key" validate:"required,max=512"`
	Type     string   `json:"type" validate:"required,oneof=user channel topic concept event"`
	Name     string   `json:"name" validate:"max=512"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// FindOrCreateNode upserts a node and returns its stable id. Re-registration
// refreshes the display name (an empty name keeps the stored one) and merges
// metadata only when the incoming metadata is non-empty.
func (db *DB) FindOrCreateNode(ctx context.Context, communityID string, in NodeInput) (int64, error) {
	return findOrCreateNode(ctx, db, communityID, in)
}

func findOrCreateNode(ctx context.Context, q querier, communityID string, in NodeInput) (int64, error) {
	now := time.Now().UnixMilli()
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO nodes (community_id, external_key, node_type, display_name, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (community_id, external_key, node_type) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE nodes.display_name END,
			metadata     = CASE WHEN excluded.metadata <> '{}' THEN json_patch(nodes.metadata, excluded.metadata) ELSE nodes.metadata END,
			updated_at   = excluded.updated_at
		RETURNING id
	`, communityID, in.Key, in.Type, in.Name, in.Metadata, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert node %s/%s: %w", in.Type, in.Key, err)
	}
	return id, nil
}

const nodeColumns = `id, community_id, external_key, node_type, display_name, metadata, created_at, updated_at`

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	var n Node
	if err := row.Scan(&n.ID, &n.CommunityID, &n.ExternalKey, &n.Type, &n.DisplayName,
		&n.Metadata, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNode returns the node with the given identity, or ErrNotFound.
func (db *DB) GetNode(ctx context.Context, communityID, key, nodeType string) (*Node, error) {
	row := db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes
		WHERE community_id = ? AND external_key = ? AND node_type = ?`,
		communityID, key, nodeType)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// Node list orderings.
const (
	OrderRecent        = "recent"
	OrderParticipation = "participation"
)

// NodeListOpts filters and orders ListNodes.
type NodeListOpts struct {
	Type  string // empty lists all types
	Order string // OrderRecent (default) or OrderParticipation
	Limit int
}

// NodeSummary is a node plus the number of hyperedges it belongs to.
type NodeSummary struct {
	Node
	EdgeCount int `json:"edge_count"`
}

// ListNodes returns nodes of a community, optionally restricted to one type.
func (db *DB) ListNodes(ctx context.Context, communityID string, opts NodeListOpts) ([]NodeSummary, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	order := "n.updated_at DESC, n.id DESC"
	if opts.Order == OrderParticipation {
		order = "edge_count DESC, n.updated_at DESC"
	}

	query := `
		SELECT n.id, n.community_id, n.external_key, n.node_type, n.display_name, n.metadata,
			n.created_at, n.updated_at, COUNT(DISTINCT m.edge_id) AS edge_count
		FROM nodes n
		LEFT JOIN memberships m ON m.node_id = n.id
		WHERE n.community_id = ?`
	args := []any{communityID}
	if opts.Type != "" {
		query += ` AND n.node_type = ?`
		args = append(args, opts.Type)
	}
	query += ` GROUP BY n.id ORDER BY ` + order + ` LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeSummary
	for rows.Next() {
		var s NodeSummary
		if err := rows.Scan(&s.ID, &s.CommunityID, &s.ExternalKey, &s.Type, &s.DisplayName,
			&s.Metadata, &s.CreatedAt, &s.UpdatedAt, &s.EdgeCount); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
