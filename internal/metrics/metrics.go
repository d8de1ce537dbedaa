// Package metrics defines the Prometheus collectors for the index, the
// embedding cache and the persistent caches. All methods are safe to call on
// a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabi"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	EmbeddingCacheHits   prometheus.Counter
	EmbeddingCacheMisses prometheus.Counter
	FallbackEmbeddings   prometheus.Counter
	CacheRequests        *prometheus.CounterVec
	CacheEvictions       *prometheus.CounterVec
	IndexRebuilds        *prometheus.CounterVec
	IndexAppends         prometheus.Counter
	DocumentsIngested    *prometheus.CounterVec
	IndexDocuments       prometheus.Gauge
	IndexVectors         prometheus.Gauge
	SearchLatency        prometheus.Histogram
	ProposalQuality      prometheus.Histogram
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EmbeddingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Embedding lookups served from the in-process cache.",
		}),
		EmbeddingCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Embedding lookups that called the embedding service.",
		}),
		FallbackEmbeddings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_embeddings_total",
			Help:      "Deterministic fallback embeddings substituted after embedding service failures.",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Persistent cache lookups by cache and result (hit, miss).",
		}, []string{"cache", "result"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Persistent cache entries removed by cache and reason (lru, expired).",
		}, []string{"cache", "reason"}),
		IndexRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Full nearest-neighbor index rebuilds by status.",
		}, []string{"status"}),
		IndexAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_incremental_updates_total",
			Help:      "Batches applied to the index by appending instead of rebuilding.",
		}),
		DocumentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents processed by add/update batches by outcome.",
		}, []string{"outcome"}),
		IndexDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_documents",
			Help:      "Live documents in the index manager.",
		}),
		IndexVectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Vectors held by the searchable index structure.",
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Package search latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ProposalQuality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proposal_quality_score",
			Help:      "Heuristic quality score (0-1) of generated proposals.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	reg.MustRegister(
		m.EmbeddingCacheHits,
		m.EmbeddingCacheMisses,
		m.FallbackEmbeddings,
		m.CacheRequests,
		m.CacheEvictions,
		m.IndexRebuilds,
		m.IndexAppends,
		m.DocumentsIngested,
		m.IndexDocuments,
		m.IndexVectors,
		m.SearchLatency,
		m.ProposalQuality,
	)
	return m
}

// Handler returns the scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) EmbeddingCacheHit() {
	if m != nil {
		m.EmbeddingCacheHits.Inc()
	}
}

func (m *Metrics) EmbeddingCacheMiss() {
	if m != nil {
		m.EmbeddingCacheMisses.Inc()
	}
}

func (m *Metrics) FallbackEmbedding() {
	if m != nil {
		m.FallbackEmbeddings.Inc()
	}
}

// CacheLookup records a persistent cache hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(cache, result).Inc()
}

// CacheEviction records n entries removed from cache for reason.
func (m *Metrics) CacheEviction(cache, reason string, n int) {
	if m != nil && n > 0 {
		m.CacheEvictions.WithLabelValues(cache, reason).Add(float64(n))
	}
}

// IndexRebuild records a rebuild attempt.
func (m *Metrics) IndexRebuild(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IndexRebuilds.WithLabelValues(status).Inc()
}

func (m *Metrics) IndexAppend() {
	if m != nil {
		m.IndexAppends.Inc()
	}
}

// Ingested records n documents with the given outcome (added, updated, skipped, failed).
func (m *Metrics) Ingested(outcome string, n int) {
	if m != nil && n > 0 {
		m.DocumentsIngested.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetIndexSize sets the live document and indexed vector gauges.
func (m *Metrics) SetIndexSize(documents, vectors int) {
	if m == nil {
		return
	}
	m.IndexDocuments.Set(float64(documents))
	m.IndexVectors.Set(float64(vectors))
}

// ObserveSearch records one search duration.
func (m *Metrics) ObserveSearch(d time.Duration) {
	if m != nil {
		m.SearchLatency.Observe(d.Seconds())
	}
}

// ObserveProposalQuality records the quality score of one generated proposal.
func (m *Metrics) ObserveProposalQuality(score float64) {
	if m != nil {
		m.ProposalQuality.Observe(score)
	}
}
