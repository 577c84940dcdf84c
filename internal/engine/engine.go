package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lazypower/hypermem/internal/config"
	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrInvalidInput wraps validation failures on caller-supplied memories.
var ErrInvalidInput = errors.New("invalid input")

// Engine owns the memory lifecycle: creation, ranked retrieval with access
// boosting, and the decay/prune sweeps.
type Engine struct {
	DB        *store.DB
	Extractor Extractor
	cfg       config.MemoryConfig
	sweep     atomic.Int32
}

// New creates a new Engine. ext may be nil when only retrieval and sweeps
// are needed.
func New(db *store.DB, cfg config.MemoryConfig, ext Extractor) *Engine {
	return &Engine{
		DB:        db,
		Extractor: ext,
		cfg:       cfg,
	}
}

// Config returns the memory settings the engine was built with.
func (e *Engine) Config() config.MemoryConfig {
	return e.cfg
}

// DecayParams returns the decay parameters derived from config.
func (e *Engine) DecayParams() DecayParams {
	return DecayParams{
		Rate:        e.cfg.DecayRate,
		AccessBoost: e.cfg.AccessBoost,
		Ceiling:     e.cfg.UrgencyCeiling,
	}
}

// CreateMemory validates in and stores it as a hyperedge. source labels the
// origin for metrics ("manual", "feed", "document").
func (e *Engine) CreateMemory(ctx context.Context, communityID, source string, in store.HyperedgeInput) (string, error) {
	if communityID == "" {
		return "", fmt.Errorf("%w: community required", ErrInvalidInput)
	}
	in, err := normalizeInput(in, e.cfg.UrgencyCeiling)
	if err != nil {
		return "", err
	}

	id, err := e.DB.CreateHyperedge(ctx, communityID, in)
	if err != nil {
		return "", err
	}
	metrics.MemoriesCreated.WithLabelValues(source).Inc()
	log.Debug().
		Str("community", communityID).
		Str("edge_id", id).
		Str("source", source).
		Int("members", len(in.Members)).
		Msg("memory created")
	return id, nil
}
