package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Stats is a read-only summary of one community's memory.
type Stats struct {
	CommunityID   string         `json:"community_id" yaml:"community_id"`
	Nodes         int            `json:"nodes" yaml:"nodes"`
	NodesByType   map[string]int `json:"nodes_by_type" yaml:"nodes_by_type"`
	Hyperedges    int            `json:"hyperedges" yaml:"hyperedges"`
	EdgesByType   map[string]int `json:"edges_by_type" yaml:"edges_by_type"`
	Memberships   int            `json:"memberships" yaml:"memberships"`
	AvgUrgency    float64        `json:"avg_urgency" yaml:"avg_urgency"`
	AvgImportance float64        `json:"avg_importance" yaml:"avg_importance"`
	TotalAccesses int64          `json:"total_accesses" yaml:"total_accesses"`
	Feeds         int            `json:"feeds" yaml:"feeds"`
	Documents     map[string]int `json:"documents" yaml:"documents"`
	OldestEdgeAt  int64          `json:"oldest_edge_at,omitempty" yaml:"oldest_edge_at,omitempty"`
}

func (db *DB) countGrouped(ctx context.Context, query string, args ...any) (map[string]int, int, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make(map[string]int)
	total := 0
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return nil, 0, err
		}
		out[k] = n
		total += n
	}
	return out, total, rows.Err()
}

// Stats aggregates counts and averages for a community.
func (db *DB) Stats(ctx context.Context, communityID string) (*Stats, error) {
	s := &Stats{CommunityID: communityID}
	var err error

	s.NodesByType, s.Nodes, err = db.countGrouped(ctx,
		`SELECT node_type, COUNT(*) FROM nodes WHERE community_id = ? GROUP BY node_type`, communityID)
	if err != nil {
		return nil, fmt.Errorf("stats nodes: %w", err)
	}
	s.EdgesByType, s.Hyperedges, err = db.countGrouped(ctx,
		`SELECT edge_type, COUNT(*) FROM hyperedges WHERE community_id = ? GROUP BY edge_type`, communityID)
	if err != nil {
		return nil, fmt.Errorf("stats hyperedges: %w", err)
	}
	s.Documents, _, err = db.countGrouped(ctx,
		`SELECT status, COUNT(*) FROM documents WHERE community_id = ? GROUP BY status`, communityID)
	if err != nil {
		return nil, fmt.Errorf("stats documents: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(urgency), 0), COALESCE(AVG(importance), 0),
			COALESCE(SUM(access_count), 0), COALESCE(MIN(created_at), 0)
		FROM hyperedges WHERE community_id = ?
	`, communityID).Scan(&s.AvgUrgency, &s.AvgImportance, &s.TotalAccesses, &s.OldestEdgeAt)
	if err != nil {
		return nil, fmt.Errorf("stats averages: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships m JOIN hyperedges e ON e.id = m.edge_id WHERE e.community_id = ?
	`, communityID).Scan(&s.Memberships)
	if err != nil {
		return nil, fmt.Errorf("stats memberships: %w", err)
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feeds WHERE community_id = ?`, communityID).Scan(&s.Feeds)
	if err != nil {
		return nil, fmt.Errorf("stats feeds: %w", err)
	}
	return s, nil
}

// Graph is a node/edge snapshot suitable for visualization or export.
type Graph struct {
	CommunityID string      `json:"community_id" yaml:"community_id"`
	GeneratedAt int64       `json:"generated_at" yaml:"generated_at"`
	Nodes       []Node      `json:"nodes" yaml:"nodes"`
	Hyperedges  []Hyperedge `json:"hyperedges" yaml:"hyperedges"`
}

// GraphView returns the limit most urgent memories and the nodes they touch.
func (db *DB) GraphView(ctx context.Context, communityID string, limit int) (*Graph, error) {
	if limit <= 0 {
		limit = 100
	}
	edges, err := db.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM hyperedges e WHERE e.community_id = ?
		ORDER BY e.urgency DESC, e.created_at DESC LIMIT ?
	`, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("graph edges: %w", err)
	}

	seen := make(map[int64]bool)
	var nodeIDs []any
	for _, e := range edges {
		for _, m := range e.Members {
			if !seen[m.NodeID] {
				seen[m.NodeID] = true
				nodeIDs = append(nodeIDs, m.NodeID)
			}
		}
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i].(int64) < nodeIDs[j].(int64) })

	g := &Graph{CommunityID: communityID, GeneratedAt: time.Now().UnixMilli(), Hyperedges: edges}
	for start := 0; start < len(nodeIDs); start += memberBatch {
		end := min(start+memberBatch, len(nodeIDs))
		nodes, err := db.listNodesRaw(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id IN (`+placeholders(end-start)+`) ORDER BY id`, nodeIDs[start:end]...)
		if err != nil {
			return nil, fmt.Errorf("graph nodes: %w", err)
		}
		g.Nodes = append(g.Nodes, nodes...)
	}
	return g, nil
}

// Export returns every node, memory and membership in a community.
func (db *DB) Export(ctx context.Context, communityID string) (*Graph, error) {
	nodes, err := db.listNodesRaw(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE community_id = ? ORDER BY id`, communityID)
	if err != nil {
		return nil, fmt.Errorf("export nodes: %w", err)
	}
	edges, err := db.queryEdges(ctx, `SELECT `+edgeColumns+` FROM hyperedges e
		WHERE e.community_id = ? ORDER BY e.created_at, e.id`, communityID)
	if err != nil {
		return nil, fmt.Errorf("export hyperedges: %w", err)
	}
	return &Graph{
		CommunityID: communityID,
		GeneratedAt: time.Now().UnixMilli(),
		Nodes:       nodes,
		Hyperedges:  edges,
	}, nil
}

func (db *DB) listNodesRaw(ctx context.Context, query string, args ...any) ([]Node, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
