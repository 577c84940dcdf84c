package store

import (
	"context"
	"fmt"
	"strings"
)

// involvesUser is a correlated subquery that is 1 when the edge has the given
// user as a member.
const involvesUser = `EXISTS (
	SELECT 1 FROM memberships m JOIN nodes n ON n.id = m.node_id
	WHERE m.edge_id = e.id AND n.node_type = 'user' AND n.external_key = ?
)`

// Contextual returns memories from one channel above floor. Memories that
// involve focusUser come first, then everything by urgency descending.
func (db *DB) Contextual(ctx context.Context, communityID, channelID, focusUser string, floor float64, limit int) ([]Hyperedge, error) {
	edges, err := db.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM hyperedges e
		WHERE e.community_id = ? AND e.channel_id = ? AND e.urgency > ?
		ORDER BY `+involvesUser+` DESC, e.urgency DESC, e.created_at DESC
		LIMIT ?
	`, communityID, channelID, floor, focusUser, limit)
	if err != nil {
		return nil, fmt.Errorf("contextual: %w", err)
	}
	return edges, nil
}

// UserFacts returns fact memories that include the user, from any channel.
func (db *DB) UserFacts(ctx context.Context, communityID, userID string, floor float64, limit int) ([]Hyperedge, error) {
	edges, err := db.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM hyperedges e
		WHERE e.community_id = ? AND e.edge_type = ? AND e.urgency > ?
		  AND `+involvesUser+`
		ORDER BY e.urgency DESC, e.created_at DESC
		LIMIT ?
	`, communityID, EdgeFact, floor, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user facts: %w", err)
	}
	return edges, nil
}

// GlobalKnowledge returns fact memories that came from ingestion.
func (db *DB) GlobalKnowledge(ctx context.Context, communityID string, floor float64, limit int) ([]Hyperedge, error) {
	edges, err := db.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM hyperedges e
		WHERE e.community_id = ? AND e.edge_type = ? AND e.channel_id = ? AND e.urgency > ?
		ORDER BY e.urgency DESC, e.created_at DESC
		LIMIT ?
	`, communityID, EdgeFact, IngestionChannel, floor, limit)
	if err != nil {
		return nil, fmt.Errorf("global knowledge: %w", err)
	}
	return edges, nil
}

// SearchOpts controls LexicalSearch ranking.
type SearchOpts struct {
	Limit            int
	Floor            float64
	ImportanceWeight float64
	UrgencyWeight    float64
}

// LexicalSearch matches any keyword against summary, content, or member
// display names and ranks by importance*ImportanceWeight + urgency*UrgencyWeight.
func (db *DB) LexicalSearch(ctx context.Context, communityID string, keywords []string, opts SearchOpts) ([]Hyperedge, error) {
	var clauses []string
	var matchArgs []any
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		pattern := "%" + escapeLike(kw) + "%"
		clauses = append(clauses, `(e.summary LIKE ? ESCAPE '\' OR e.content LIKE ? ESCAPE '\' OR EXISTS (
			SELECT 1 FROM memberships m JOIN nodes n ON n.id = m.node_id
			WHERE m.edge_id = e.id AND n.display_name LIKE ? ESCAPE '\'))`)
		matchArgs = append(matchArgs, pattern, pattern, pattern)
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	args := []any{communityID, opts.Floor}
	args = append(args, matchArgs...)
	args = append(args, opts.ImportanceWeight, opts.UrgencyWeight, opts.Limit)

	edges, err := db.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM hyperedges e
		WHERE e.community_id = ? AND e.urgency > ?
		  AND (`+strings.Join(clauses, " OR ")+`)
		ORDER BY (e.importance * ? + e.urgency * ?) DESC, e.created_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return edges, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
