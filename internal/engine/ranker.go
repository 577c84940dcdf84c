package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/rs/zerolog/log"
)

const defaultLimit = 10

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

// Contextual returns memories from one channel, the focus user's first,
// then by urgency. Every returned memory is recorded as accessed.
func (e *Engine) Contextual(ctx context.Context, communityID, channelID, focusUserID string, limit int) ([]store.Hyperedge, error) {
	edges, err := e.DB.Contextual(ctx, communityID, channelID, focusUserID, e.cfg.RetrievalFloor, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return e.surface(ctx, "contextual", edges), nil
}

// UserFacts returns durable facts about a user from any channel.
func (e *Engine) UserFacts(ctx context.Context, communityID, userID string, limit int) ([]store.Hyperedge, error) {
	edges, err := e.DB.UserFacts(ctx, communityID, userID, e.cfg.RetrievalFloor, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return e.surface(ctx, "user_facts", edges), nil
}

// GlobalKnowledge returns facts ingested from feeds and documents.
func (e *Engine) GlobalKnowledge(ctx context.Context, communityID string, limit int) ([]store.Hyperedge, error) {
	edges, err := e.DB.GlobalKnowledge(ctx, communityID, e.cfg.RetrievalFloor, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return e.surface(ctx, "global", edges), nil
}

// Search tokenizes query into keywords and runs a lexical search weighted
// by the configured importance and urgency weights.
func (e *Engine) Search(ctx context.Context, communityID, query string, limit int) ([]store.Hyperedge, error) {
	keywords := Keywords(query, 8)
	if len(keywords) == 0 {
		// all stop words or very short: fall back to the raw query
		if q := strings.TrimSpace(query); q != "" {
			keywords = []string{q}
		}
	}
	edges, err := e.DB.LexicalSearch(ctx, communityID, keywords, store.SearchOpts{
		Limit:            limitOr(limit),
		Floor:            e.cfg.RetrievalFloor,
		ImportanceWeight: e.cfg.ImportanceWeight,
		UrgencyWeight:    e.cfg.UrgencyWeight,
	})
	if err != nil {
		return nil, err
	}
	return e.surface(ctx, "search", edges), nil
}

// RecordAccess boosts one memory's urgency as if it had been surfaced.
func (e *Engine) RecordAccess(ctx context.Context, edgeID string) error {
	return e.DB.RecordAccess(ctx, edgeID, e.cfg.RetrievalBoost, e.cfg.UrgencyCeiling)
}

// surface records one access for every edge handed back to a caller.
func (e *Engine) surface(ctx context.Context, shape string, edges []store.Hyperedge) []store.Hyperedge {
	ids := make([]string, len(edges))
	for i, edge := range edges {
		ids[i] = edge.ID
	}
	e.recordAccesses(ctx, shape, ids)
	return edges
}

// Reinforce records one access for each id, as when a cached context block
// is served to another turn.
func (e *Engine) Reinforce(ctx context.Context, ids []string) {
	e.recordAccesses(ctx, "context_cached", ids)
}

// recordAccesses boosts each id once. Failures are logged; a read never
// fails because its boost could not be written.
func (e *Engine) recordAccesses(ctx context.Context, shape string, ids []string) {
	metrics.Retrievals.WithLabelValues(shape).Inc()
	for _, id := range ids {
		if err := e.RecordAccess(ctx, id); err != nil {
			log.Warn().Err(err).Str("edge_id", id).Str("shape", shape).Msg("record access failed")
			continue
		}
		metrics.MemoriesSurfaced.Inc()
	}
}

// Context is a rendered prompt block and the memories listed in it.
type Context struct {
	Text    string
	EdgeIDs []string
}

// BuildContext assembles contextual, user and global memories into a
// markdown block for prompt injection. A memory appearing in more than one
// section is listed once, in the first section that returned it, and is
// boosted once.
func (e *Engine) BuildContext(ctx context.Context, communityID, channelID, userID string, limit int) (*Context, error) {
	limit = limitOr(limit)
	floor := e.cfg.RetrievalFloor

	contextual, err := e.DB.Contextual(ctx, communityID, channelID, userID, floor, limit)
	if err != nil {
		return nil, fmt.Errorf("context block: %w", err)
	}
	var facts []store.Hyperedge
	if userID != "" {
		facts, err = e.DB.UserFacts(ctx, communityID, userID, floor, limit)
		if err != nil {
			return nil, fmt.Errorf("context block: %w", err)
		}
	}
	global, err := e.DB.GlobalKnowledge(ctx, communityID, floor, limit)
	if err != nil {
		return nil, fmt.Errorf("context block: %w", err)
	}

	out := &Context{}
	seen := make(map[string]bool)
	var b strings.Builder
	section := func(title string, edges []store.Hyperedge) {
		var lines []string
		for _, edge := range edges {
			if seen[edge.ID] {
				continue
			}
			seen[edge.ID] = true
			out.EdgeIDs = append(out.EdgeIDs, edge.ID)
			lines = append(lines, "- "+edge.Summary)
		}
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", title, strings.Join(lines, "\n"))
	}
	section("Recent in this channel", contextual)
	section("About this user", facts)
	section("Background knowledge", global)

	e.recordAccesses(ctx, "context", out.EdgeIDs)
	out.Text = strings.TrimSpace(b.String())
	return out, nil
}

// ContextBlock is BuildContext without the edge ids.
func (e *Engine) ContextBlock(ctx context.Context, communityID, channelID, userID string, limit int) (string, error) {
	c, err := e.BuildContext(ctx, communityID, channelID, userID, limit)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}
