package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IngestionChannel is the channel id recorded on memories that came from
// feeds and documents rather than a live conversation.
const IngestionChannel = "__ingestion__"

// EdgeFact is the edge type retrieved by UserFacts and GlobalKnowledge.
const EdgeFact = "fact"

// Hyperedge is one memory: an n-ary fact connecting any number of nodes.
type Hyperedge struct {
	ID              string   `json:"id" yaml:"id"`
	CommunityID     string   `json:"community_id" yaml:"community_id"`
	ChannelID       string   `json:"channel_id" yaml:"channel_id"`
	EdgeType        string   `json:"edge_type" yaml:"edge_type"`
	Summary         string   `json:"summary" yaml:"summary"`
	Content         string   `json:"content,omitempty" yaml:"content,omitempty"`
	Importance      float64  `json:"importance" yaml:"importance"`
	Urgency         float64  `json:"urgency" yaml:"urgency"`
	AccessCount     int      `json:"access_count" yaml:"access_count"`
	LastAccessedAt  *int64   `json:"last_accessed_at,omitempty" yaml:"last_accessed_at,omitempty"`
	SourceMessageID string   `json:"source_message_id,omitempty" yaml:"source_message_id,omitempty"`
	Metadata        Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt       int64    `json:"created_at" yaml:"created_at"`
	UpdatedAt       int64    `json:"updated_at" yaml:"updated_at"`
	Members         []Member `json:"members,omitempty" yaml:"members,omitempty"`
}

// Member is a node's participation in a hyperedge.
type Member struct {
	NodeID int64   `json:"node_id" yaml:"node_id"`
	Key    string  `json:"key" yaml:"key"`
	Type   string  `json:"type" yaml:"type"`
	Name   string  `json:"name" yaml:"name"`
	Role   string  `json:"role" yaml:"role"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// MemberInput names a node (created if needed) and how it takes part.
type MemberInput struct {
	NodeInput
	Role   string  `json:"role" validate:"max=64"`
	Weight float64 `json:"weight" validate:"gte=0"`
}

// HyperedgeInput is everything needed to create a memory.
type HyperedgeInput struct {
	ChannelID       string        `json:"channel_id" validate:"max=256"`
	EdgeType        string        `json:"edge_type" validate:"max=64"`
	Summary         string        `json:"summary" validate:"required,max=4096"`
	Content         string        `json:"content"`
	Importance      float64       `json:"importance" validate:"gte=0"` // 0 means default 1.0
	SourceMessageID string        `json:"source_message_id"`
	Metadata        Metadata      `json:"metadata,omitempty"`
	Members         []MemberInput `json:"members" validate:"dive"`
}

// CreateHyperedge inserts the edge, finds or creates every member node, and
// inserts every membership in one transaction. Any failure leaves no trace.
// A source_url already stored in the community yields ErrDuplicate.
func (db *DB) CreateHyperedge(ctx context.Context, communityID string, in HyperedgeInput) (string, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return "", fmt.Errorf("create hyperedge: summary required")
	}
	importance := in.Importance
	if importance <= 0 {
		importance = 1.0
	}
	edgeType := in.EdgeType
	if edgeType == "" {
		edgeType = EdgeFact
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		// the only uniqueness a fresh uuid can hit is idx_edges_source_url
		res, err := tx.ExecContext(ctx, `
			INSERT INTO hyperedges (id, community_id, channel_id, edge_type, summary, content,
				importance, urgency, access_count, source_message_id, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULLIF(?, ''), ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, id, communityID, in.ChannelID, edgeType, in.Summary, in.Content,
			importance, importance, in.SourceMessageID, in.Metadata, now, now)
		if err != nil {
			return fmt.Errorf("insert hyperedge: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrDuplicate
		}

		for _, m := range in.Members {
			nodeID, err := findOrCreateNode(ctx, tx, communityID, m.NodeInput)
			if err != nil {
				return err
			}
			role := m.Role
			if role == "" {
				role = "participant"
			}
			weight := m.Weight
			if weight <= 0 {
				weight = 1.0
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memberships (edge_id, node_id, role, weight) VALUES (?, ?, ?, ?)
				ON CONFLICT (edge_id, node_id, role) DO NOTHING
			`, id, nodeID, role, weight); err != nil {
				return fmt.Errorf("insert membership %s/%s: %w", m.Type, m.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create hyperedge: %w", err)
	}
	return id, nil
}

const edgeColumns = `e.id, e.community_id, e.channel_id, e.edge_type, e.summary, e.content,
	e.importance, e.urgency, e.access_count, e.last_accessed_at, e.source_message_id,
	e.metadata, e.created_at, e.updated_at`

func scanEdge(row interface{ Scan(...any) error }, extra ...any) (*Hyperedge, error) {
	var (
		e          Hyperedge
		lastAccess sql.NullInt64
		sourceMsg  sql.NullString
	)
	dest := []any{&e.ID, &e.CommunityID, &e.ChannelID, &e.EdgeType, &e.Summary, &e.Content,
		&e.Importance, &e.Urgency, &e.AccessCount, &lastAccess, &sourceMsg,
		&e.Metadata, &e.CreatedAt, &e.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if lastAccess.Valid {
		v := lastAccess.Int64
		e.LastAccessedAt = &v
	}
	e.SourceMessageID = sourceMsg.String
	return &e, nil
}

func (db *DB) queryEdges(ctx context.Context, query string, args ...any) ([]Hyperedge, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Hyperedge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hyperedge: %w", err)
		}
		edges = append(edges, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows must be closed before the member query on a single-conn pool
	rows.Close()

	if err := db.attachMembers(ctx, edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// memberBatch bounds the ids bound into one IN list, well under SQLite's
// host parameter limit.
const memberBatch = 500

// attachMembers loads memberships for edges, ordered by weight descending.
func (db *DB) attachMembers(ctx context.Context, edges []Hyperedge) error {
	idx := make(map[string]int, len(edges))
	for i, e := range edges {
		idx[e.ID] = i
	}
	for start := 0; start < len(edges); start += memberBatch {
		end := min(start+memberBatch, len(edges))
		if err := db.loadMembers(ctx, edges, idx, edges[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) loadMembers(ctx context.Context, edges []Hyperedge, idx map[string]int, batch []Hyperedge) error {
	args := make([]any, len(batch))
	for i, e := range batch {
		args[i] = e.ID
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.edge_id, n.id, n.external_key, n.node_type, n.display_name, m.role, m.weight
		FROM memberships m
		JOIN nodes n ON n.id = m.node_id
		WHERE m.edge_id IN (`+placeholders(len(batch))+`)
		ORDER BY m.weight DESC, n.id ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			edgeID string
			m      Member
		)
		if err := rows.Scan(&edgeID, &m.NodeID, &m.Key, &m.Type, &m.Name, &m.Role, &m.Weight); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		i := idx[edgeID]
		edges[i].Members = append(edges[i].Members, m)
	}
	return rows.Err()
}

// placeholders returns n comma-separated "?".
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// GetHyperedge returns one memory with its members, or ErrNotFound.
func (db *DB) GetHyperedge(ctx context.Context, id string) (*Hyperedge, error) {
	edges, err := db.queryEdges(ctx, `SELECT `+edgeColumns+` FROM hyperedges e WHERE e.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get hyperedge: %w", err)
	}
	if len(edges) == 0 {
		return nil, ErrNotFound
	}
	return &edges[0], nil
}

// QueryByNode returns memories that include the node with the given key,
// most urgent first. An empty nodeType matches the key under any type.
func (db *DB) QueryByNode(ctx context.Context, communityID, nodeKey, nodeType string, minUrgency float64, limit int) ([]Hyperedge, error) {
	if limit <= 0 {
		limit = 20
	}
	edges, err := db.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM hyperedges e
		WHERE e.community_id = ? AND e.urgency >= ?
		  AND EXISTS (
			SELECT 1 FROM memberships m JOIN nodes n ON n.id = m.node_id
			WHERE m.edge_id = e.id AND n.external_key = ? AND (? = '' OR n.node_type = ?)
		  )
		ORDER BY e.urgency DESC, e.created_at DESC
		LIMIT ?
	`, communityID, minUrgency, nodeKey, nodeType, nodeType, limit)
	if err != nil {
		return nil, fmt.Errorf("query by node: %w", err)
	}
	return edges, nil
}

// DeleteHyperedge removes a memory and its memberships. Nodes are kept.
func (db *DB) DeleteHyperedge(ctx context.Context, id string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE edge_id = ?`, id); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM hyperedges WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete hyperedge: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RecordAccess marks a memory as surfaced: bumps access_count, stamps
// last_accessed_at, and multiplies urgency by boost, capped at ceiling.
func (db *DB) RecordAccess(ctx context.Context, id string, boost, ceiling float64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE hyperedges SET
			access_count = access_count + 1,
			last_accessed_at = ?,
			urgency = MIN(urgency * ?, ?)
		WHERE id = ?
	`, time.Now().UnixMilli(), boost, ceiling, id)
	if err != nil {
		return fmt.Errorf("record access %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record access %s: %w", id, ErrNotFound)
	}
	return nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
