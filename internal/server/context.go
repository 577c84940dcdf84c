package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	channel := r.URL.Query().Get("channel")
	user := r.URL.Query().Get("user")
	limit := intParam(r, "limit", 10)

	block, cached, err := s.buildContext(r, community, channel, user, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"context": block,
		"cached":  cached,
	})
}

// buildContext returns the prompt block for a conversation turn. Blocks are
// cached per community, channel, user and limit. A write through this server
// drops the community's blocks; writes from scheduled jobs are bounded by
// the cache TTL unless the job calls Invalidate or PurgeContext. A cache hit
// boosts the listed memories once, as a fresh build would.
func (s *Server) buildContext(r *http.Request, community, channel, user string, limit int) (string, bool, error) {
	key := contextKey(community, channel, user, limit)
	if c, ok := s.cache.Get(key); ok {
		s.engine.Reinforce(r.Context(), c.EdgeIDs)
		return c.Text, true, nil
	}

	c, err := s.engine.BuildContext(r.Context(), community, channel, user, limit)
	if err != nil {
		return "", false, err
	}
	s.cache.Add(key, c)
	return c.Text, false, nil
}

func contextKey(community, channel, user string, limit int) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d", community, channel, user, limit)
}

// Invalidate drops every cached context block for community.
func (s *Server) Invalidate(community string) {
	prefix := community + "\x00"
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
}

// PurgeContext drops every cached context block.
func (s *Server) PurgeContext() {
	s.cache.Purge()
}
