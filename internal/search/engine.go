// Package search turns free-text queries into ranked travel packages.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/tabi/internal/embedding"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/ranking"
	"github.com/hyperjump/tabi/pkg/utils"
	"go.uber.org/zap"
)

// DefaultOverfetchFactor is how many candidates per requested result are
// pulled from the index before reranking.
const DefaultOverfetchFactor = 2

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = models.ErrEmptyQuery

// Index is the nearest-neighbor lookup the engine searches.
type Index interface {
	Search(ctx context.Context, query []float32, k int) ([]indexer.Hit, error)
}

// Config controls the engine.
type Config struct {
	Dimensions      int
	DefaultLimit    int
	MaxLimit        int
	OverfetchFactor int
	CategoryBoost   bool
}

// Engine runs semantic search with optional category reranking.
type Engine struct {
	index    Index
	embedder embedding.Embedder
	ranker   *ranking.Ranker
	filter   func(*models.Package) bool
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records latency and fallback embeddings on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFilter drops every candidate for which keep returns false. It is
// applied together with SearchQuery.Filter.
func WithFilter(keep func(*models.Package) bool) Option {
	return func(e *Engine) { e.filter = keep }
}

// WithRanker replaces the default category ranker.
func WithRanker(r *ranking.Ranker) Option {
	return func(e *Engine) { e.ranker = r }
}

// NewEngine creates a search engine. embedder should be the shared
// embedding cache so query embeddings are memoized with package embeddings.
func NewEngine(index Index, embedder embedding.Embedder, cfg Config, opts ...Option) *Engine {
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = DefaultOverfetchFactor
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = embedder.Dimensions()
	}
	e := &Engine{
		index:    index,
		embedder: embedder,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ranker == nil {
		e.ranker = ranking.NewRanker(nil)
	}
	e.logger = utils.LoggerOrNop(e.logger)
	return e
}

// Search embeds the query, fetches OverfetchFactor×Limit candidates,
// scores them by relative distance, drops candidates rejected by the
// filters, applies the category boost and returns the top Limit. If the embedding service fails a deterministic fallback
// vector is used and the response is marked Degraded.
func (e *Engine) Search(ctx context.Context, in *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if in == nil {
		return nil, ProcessQuery(nil)
	}
	q := *in
	query := &q
	if query.Limit <= 0 && e.config.DefaultLimit > 0 {
		query.Limit = e.config.DefaultLimit
	}
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}
	if e.config.MaxLimit > 0 && query.Limit > e.config.MaxLimit {
		query.Limit = e.config.MaxLimit
	}

	resp := &models.SearchResponse{Query: query.Query, Results: []*models.SearchResult{}}
	vec, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("Query embedding failed, using fallback vector",
			zap.String("query", utils.Truncate(query.Query, 80)),
			zap.Error(err))
		e.metrics.FallbackEmbedding()
		vec = embedding.Fallback(query.Query, e.config.Dimensions)
		resp.Degraded = true
	}

	hits, err := e.index.Search(ctx, vec, query.Limit*e.config.OverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	distances := make([]float64, len(hits))
	for i, h := range hits {
		distances[i] = h.Distance
	}
	sims := Similarities(distances)
	results := make([]*models.SearchResult, 0, len(hits))
	for i, h := range hits {
		if !query.Filter.Match(h.Package) || (e.filter != nil && !e.filter(h.Package)) {
			continue
		}
		results = append(results, &models.SearchResult{
			Package:    h.Package,
			Similarity: sims[i],
			Score:      sims[i],
			Distance:   h.Distance,
			Rank:       len(results) + 1,
		})
	}

	if e.config.CategoryBoost && !query.DisableRerank {
		if cat, ok := e.ranker.Detect(query.Query); ok {
			resp.Category = cat.Name
			e.ranker.Rerank(results, cat)
		}
	}

	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	resp.Results = results
	resp.Total = len(results)
	elapsed := time.Since(startTime)
	resp.QueryTime = elapsed.Milliseconds()
	e.metrics.ObserveSearch(elapsed)
	return resp, nil
}

// ProcessQuery validates the query and fills in the default limit.
func ProcessQuery(query *models.SearchQuery) error {
	if query == nil {
		return fmt.Errorf("query is required")
	}
	return query.Validate()
}
