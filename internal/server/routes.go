package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/hypermem/internal/store"
)

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")

	var in store.HyperedgeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := s.engine.CreateMemory(r.Context(), community, "manual", in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.Invalidate(community)

	edge, err := s.db.GetHyperedge(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	edge, err := s.communityEdge(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	edge, err := s.communityEdge(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.db.DeleteHyperedge(r.Context(), edge.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	s.Invalidate(edge.CommunityID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": edge.ID})
}

// communityEdge loads the {id} memory, treating a memory owned by another
// community as missing.
func (s *Server) communityEdge(r *http.Request) (*store.Hyperedge, error) {
	edge, err := s.db.GetHyperedge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if edge.CommunityID != chi.URLParam(r, "community") {
		return nil, store.ErrNotFound
	}
	return edge, nil
}

func (s *Server) handleUserFacts(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	user := chi.URLParam(r, "user")

	edges, err := s.engine.UserFacts(r.Context(), community, user, intParam(r, "limit", 10))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeEdges(w, edges)
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")

	edges, err := s.engine.GlobalKnowledge(r.Context(), community, intParam(r, "limit", 10))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeEdges(w, edges)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}

	edges, err := s.engine.Search(r.Context(), community, query, intParam(r, "limit", 10))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(edges),
		"results": nonNil(edges),
	})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	q := r.URL.Query()

	nodeType := q.Get("type")
	if nodeType != "" && !store.ValidNodeTypes[nodeType] {
		writeError(w, http.StatusBadRequest, "unknown node type "+strconv.Quote(nodeType))
		return
	}
	order := q.Get("order")
	switch order {
	case "", store.OrderRecent, store.OrderParticipation:
	default:
		writeError(w, http.StatusBadRequest, "order must be recent or participation")
		return
	}

	nodes, err := s.db.ListNodes(r.Context(), community, store.NodeListOpts{
		Type:  nodeType,
		Order: order,
		Limit: intParam(r, "limit", 50),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if nodes == nil {
		nodes = []store.NodeSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(nodes),
		"nodes": nodes,
	})
}

func (s *Server) handleNodeMemories(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	key := chi.URLParam(r, "key")
	q := r.URL.Query()

	minUrgency := s.engine.Config().RetrievalFloor
	if v := q.Get("min_urgency"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, "min_urgency must be a non-negative number")
			return
		}
		minUrgency = f
	}

	edges, err := s.db.QueryByNode(r.Context(), community, key, q.Get("type"), minUrgency, intParam(r, "limit", 20))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeEdges(w, edges)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.Context(), chi.URLParam(r, "community"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.db.GraphView(r.Context(), chi.URLParam(r, "community"), min(intParam(r, "limit", 100), maxGraphLimit))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	g, err := s.db.Export(r.Context(), community)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+community+`-export.json"`)
	writeJSON(w, http.StatusOK, g)
}

func writeEdges(w http.ResponseWriter, edges []store.Hyperedge) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(edges),
		"memories": nonNil(edges),
	})
}

func nonNil(edges []store.Hyperedge) []store.Hyperedge {
	if edges == nil {
		return []store.Hyperedge{}
	}
	return edges
}
