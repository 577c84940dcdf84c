package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/ingest"
	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Options configures a Server.
type Options struct {
	Version      string
	CacheTTL     time.Duration
	CacheSize    int
	UploadDir    string
	FeedInterval time.Duration // default interval for feeds added without one
}

// Server is the hypermem HTTP API server.
type Server struct {
	db       *store.DB
	engine   *engine.Engine
	pipeline *ingest.Pipeline
	router   chi.Router
	cache    *expirable.LRU[string, *engine.Context]
	opts     Options
	started  time.Time
}

// New creates a new Server. pipe may be nil, in which case feed and
// document routes answer 503.
func New(eng *engine.Engine, pipe *ingest.Pipeline, opts Options) *Server {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 512
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.FeedInterval <= 0 {
		opts.FeedInterval = time.Hour
	}
	s := &Server{
		db:       eng.DB,
		engine:   eng,
		pipeline: pipe,
		cache:    expirable.NewLRU[string, *engine.Context](opts.CacheSize, nil, opts.CacheTTL),
		opts:     opts,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/maintenance", s.handleMaintenance)

		r.Route("/communities/{community}", func(r chi.Router) {
			r.Post("/memories", s.handleCreateMemory)
			r.Get("/memories/{id}", s.handleGetMemory)
			r.Delete("/memories/{id}", s.handleDeleteMemory)

			r.Get("/context", s.handleGetContext)
			r.Get("/users/{user}/facts", s.handleUserFacts)
			r.Get("/knowledge", s.handleKnowledge)
			r.Get("/search", s.handleSearch)

			r.Get("/nodes", s.handleListNodes)
			r.Get("/nodes/{key}/memories", s.handleNodeMemories)

			r.Get("/stats", s.handleStats)
			r.Get("/graph", s.handleGraph)
			r.Get("/export", s.handleExport)

			r.Post("/feeds", s.handleAddFeed)
			r.Get("/feeds", s.handleListFeeds)
			r.Delete("/feeds/{id}", s.handleDeleteFeed)

			r.Post("/documents", s.handleUploadDocument)
			r.Get("/documents", s.handleListDocuments)
			r.Get("/documents/{id}", s.handleGetDocument)
			r.Delete("/documents/{id}", s.handleDeleteDocument)
		})
	})

	s.router = r
}

// instrument records request count and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.opts.Version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"sweep":   s.engine.SweepState().String(),
	})
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunMaintenance(r.Context())
	if errors.Is(err, engine.ErrSweepRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.PurgeContext()
	writeJSON(w, http.StatusOK, map[string]any{
		"decayed":     res.Decayed,
		"pruned":      res.Pruned,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps domain errors onto status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// maxGraphLimit caps /graph so one request cannot load the whole community;
// /export is the unbounded view.
const maxGraphLimit = 2000

// intParam reads a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
