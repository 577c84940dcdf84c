// Package ingest turns syndicated feeds and uploaded documents into
// memories on the ingestion channel.
package ingest

import (
	"net/http"
	"time"

	"github.com/lazypower/hypermem/internal/config"
	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/mmcdole/gofeed"
)

// Member roles used by ingested memories.
const (
	RoleMentioned = "mentioned"
	RoleSource    = "source"
	RoleTagged    = "tagged"
)

// Pipeline runs feed polling and document ingestion against one engine.
type Pipeline struct {
	DB        *store.DB
	Engine    *engine.Engine
	Extractor engine.Extractor

	cfg    config.IngestConfig
	parser *gofeed.Parser
	now    func() time.Time
}

// New creates a Pipeline. A nil extractor degrades every item to a
// truncated summary.
func New(eng *engine.Engine, ext engine.Extractor, cfg config.IngestConfig) *Pipeline {
	if ext == nil {
		ext = engine.NewLLMExtractor(nil)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 5
	}
	if cfg.FeedConcurrency <= 0 {
		cfg.FeedConcurrency = 1
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: 30 * time.Second}
	parser.UserAgent = "hypermem/1.0"

	return &Pipeline{
		DB:        eng.DB,
		Engine:    eng,
		Extractor: ext,
		cfg:       cfg,
		parser:    parser,
		now:       time.Now,
	}
}
