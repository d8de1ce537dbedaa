package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/tabi/internal/cache"
	"github.com/hyperjump/tabi/internal/evaluation"
	"github.com/hyperjump/tabi/internal/fingerprint"
	"github.com/hyperjump/tabi/internal/generation"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

// ErrEmptyInquiry is returned for a blank inquiry text.
var ErrEmptyInquiry = errors.New("inquiry cannot be empty")

const (
	// DefaultTopK is how many packages inform a proposal.
	DefaultTopK = 3
	// excerptLen bounds the proposal excerpt kept in the destination cache.
	excerptLen = 500
)

// Searcher retrieves packages for a query. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// Pipeline runs extraction, retrieval and generation for an inquiry, with
// results cached by inquiry text and parameters.
type Pipeline struct {
	searcher     Searcher
	extractor    *Extractor
	generator    generation.Generator
	responses    *cache.ResponseCache
	destinations *cache.DestinationCache
	evaluator    *evaluation.Evaluator
	group        singleflight.Group
	topK         int
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = utils.LoggerOrNop(l) }
}

// WithResponseCache caches full proposal bundles.
func WithResponseCache(c *cache.ResponseCache) Option {
	return func(p *Pipeline) { p.responses = c }
}

// WithDestinationCache records destination side data after each proposal.
func WithDestinationCache(c *cache.DestinationCache) Option {
	return func(p *Pipeline) { p.destinations = c }
}

// WithEvaluator scores every uncached run with e. The caller owns e.
func WithEvaluator(e *evaluation.Evaluator) Option {
	return func(p *Pipeline) { p.evaluator = e }
}

// Evaluator returns the pipeline's evaluator, or nil.
func (p *Pipeline) Evaluator() *evaluation.Evaluator {
	return p.evaluator
}

// WithTopK sets how many packages are retrieved per inquiry.
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// NewPipeline builds a pipeline. gen serves both extraction and proposal generation.
func NewPipeline(searcher Searcher, gen generation.Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		searcher:  searcher,
		generator: gen,
		topK:      DefaultTopK,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.extractor = NewExtractor(gen, p.logger)
	return p
}

// Process returns the proposal for text. The bool reports whether the
// response came from the cache. forceRefresh bypasses the cache lookup but
// still stores the new result. Concurrent calls for the same inquiry and
// params share one run. A generation failure is returned and nothing is cached.
func (p *Pipeline) Process(ctx context.Context, text string, params map[string]any, forceRefresh bool) (*models.ProposalResponse, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, ErrEmptyInquiry
	}
	if p.responses != nil && !forceRefresh {
		if resp, ok := p.responses.Get(text, params); ok {
			p.logger.Debug("Proposal served from cache")
			return resp, true, nil
		}
	}

	key, err := fingerprint.Key(text, params)
	if err != nil {
		return nil, false, fmt.Errorf("inquiry key: %w", err)
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.run(ctx, text, params)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.ProposalResponse), false, nil
}

func (p *Pipeline) run(ctx context.Context, text string, params map[string]any) (*models.ProposalResponse, error) {
	start := p.now()

	inq := p.extractor.Extract(ctx, text)
	if p.evaluator != nil {
		ev := p.evaluator.EvaluateExtraction(text, inq, nil)
		p.logger.Debug("Extraction evaluated",
			zap.Float64("completeness", ev.Metrics["extraction_completeness"]))
	}
	query := BuildQuery(inq, text)

	searchStart := p.now()
	found, err := p.searcher.Search(ctx, &models.SearchQuery{Query: query, Limit: p.topK})
	if err != nil {
		return nil, fmt.Errorf("retrieve packages: %w", err)
	}
	packages := p.fillCountries(found.Packages())
	if p.evaluator != nil {
		ev := p.evaluator.EvaluateRetrieval(query, packages, p.now().Sub(searchStart), nil)
		p.logger.Debug("Retrieval evaluated",
			zap.Int("packages", len(packages)),
			zap.Float64("location_diversity", ev.Metrics["location_diversity"]))
	}

	prompt := generation.ItineraryPrompt(inq, packages)
	out, err := p.generator.Generate(ctx, prompt, generation.ItinerarySystem)
	if err != nil {
		return nil, fmt.Errorf("generate proposal: %w", err)
	}

	resp := &models.ProposalResponse{
		Inquiry:        inq,
		Query:          query,
		Packages:       packages,
		Proposal:       generation.CleanItinerary(out),
		ProcessingTime: p.now().Sub(start).Seconds(),
		GeneratedAt:    p.now(),
	}
	if p.evaluator != nil {
		gen := p.evaluator.EvaluateGeneration(inq, packages, resp.Proposal)
		p.evaluator.EvaluateEndToEnd(text, resp.Proposal, p.now().Sub(start))
		p.logger.Debug("Generation evaluated", zap.Float64("quality", gen.Metrics["quality_score"]))
	}
	p.logger.Info("Proposal generated",
		zap.String("destination", inq.Destination),
		zap.String("query", query),
		zap.Int("packages", len(packages)),
		zap.Bool("degraded_retrieval", found.Degraded),
		zap.Float64("seconds", resp.ProcessingTime))

	p.store(text, params, resp)
	return resp, nil
}

// fillCountries copies packages, filling unknown country and continent from
// the destination cache.
func (p *Pipeline) fillCountries(pkgs []*models.Package) []*models.Package {
	out := make([]*models.Package, len(pkgs))
	for i, pkg := range pkgs {
		cp := *pkg
		if p.destinations != nil && !known(cp.Country) && cp.Location != "" {
			if d, ok := p.destinations.Get(cp.Location); ok && known(d.Country) {
				cp.Country = d.Country
				if known(d.Continent) {
					cp.Continent = d.Continent
				}
			}
		}
		out[i] = &cp
	}
	return out
}

func (p *Pipeline) store(text string, params map[string]any, resp *models.ProposalResponse) {
	if p.responses != nil {
		if err := p.responses.Put(text, params, resp); err != nil {
			p.logger.Warn("Failed to cache proposal", zap.Error(err))
		}
	}

	dest := resp.Inquiry.Destination
	if p.destinations == nil || dest == "" {
		return
	}
	if _, ok := p.destinations.Get(dest); ok {
		return
	}
	data := &models.DestinationData{
		Name:            dest,
		Packages:        resp.Packages,
		LastQuery:       resp.Query,
		ProposalExcerpt: utils.Truncate(resp.Proposal, excerptLen),
	}
	for _, pkg := range resp.Packages {
		if data.Country == "" && known(pkg.Country) {
			data.Country = pkg.Country
		}
		if data.Continent == "" && known(pkg.Continent) {
			data.Continent = pkg.Continent
		}
	}
	p.destinations.Put(dest, data)
}

func known(s string) bool {
	return s != "" && s != "Unknown"
}
