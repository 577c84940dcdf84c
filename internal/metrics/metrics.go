package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypermem_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hypermem_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	Retrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypermem_retrievals_total",
			Help: "Retrieval calls by shape",
		},
		[]string{"shape"},
	)

	MemoriesSurfaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hypermem_memories_surfaced_total",
			Help: "Memories returned by retrieval and boosted",
		},
	)

	MemoriesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypermem_memories_created_total",
			Help: "Memories created by source",
		},
		[]string{"source"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypermem_sweep_runs_total",
			Help: "Decay and prune sweep runs by result",
		},
		[]string{"result"}, // ok, error, skipped
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "hypermem_sweep_duration_seconds",
			Help: "Duration of a full decay and prune sweep",
		},
	)

	EdgesDecayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hypermem_edges_decayed_total",
			Help: "Memories whose urgency changed during decay",
		},
	)

	EdgesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hypermem_edges_pruned_total",
			Help: "Memories permanently deleted by pruning",
		},
	)

	IngestItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypermem_ingest_items_total",
			Help: "Ingested feed items and document chunks by result",
		},
		[]string{"source", "result"}, // source: feed, document; result: created, duplicate, error
	)

	ExtractionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hypermem_extraction_fallbacks_total",
			Help: "Extractions that degraded to a truncated summary",
		},
	)
)
