// Package server provides the HTTP API for tabi.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/cache"
	"github.com/hyperjump/tabi/internal/config"
	"github.com/hyperjump/tabi/internal/embedding"
	"github.com/hyperjump/tabi/internal/evaluation"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/ingest"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/storage"
	"github.com/hyperjump/tabi/pkg/utils"
)

// minRequestTimeout bounds every request; proposal requests may need more.
const minRequestTimeout = 60 * time.Second

// Searcher runs package searches. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// Index is the vector index surface the API exposes. *indexer.Manager satisfies it.
type Index interface {
	Stats() indexer.Stats
	Rebuild(ctx context.Context) error
}

// Catalog writes packages through to storage and the index. *ingest.Service satisfies it.
type Catalog interface {
	UpsertPackages(ctx context.Context, pkgs []*models.Package) (*ingest.Result, error)
	DeletePackage(ctx context.Context, id string) (bool, error)
}

// Proposer turns inquiries into proposals. *proposal.Pipeline satisfies it.
type Proposer interface {
	Process(ctx context.Context, text string, params map[string]any, forceRefresh bool) (*models.ProposalResponse, bool, error)
}

// WatchService reports the watched catalog directories.
type WatchService interface {
	Directories() []string
}

// Dependencies are the components served by the API. Caches, Evaluator,
// Watch and Gatherer may be nil.
type Dependencies struct {
	Searcher     Searcher
	Index        Index
	Catalog      Catalog
	Storage      storage.Storage
	Proposer     Proposer
	Embeddings   *embedding.Cache
	Responses    *cache.ResponseCache
	Destinations *cache.DestinationCache
	Evaluator    *evaluation.Evaluator
	Watch        WatchService
	Gatherer     prometheus.Gatherer
}

// Server is the HTTP server for the tabi API.
type Server struct {
	deps   Dependencies
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Server {
	return &Server{
		deps:   deps,
		config: cfg,
		logger: utils.LoggerOrNop(logger),
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout()))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/packages", s.handleUpsertPackages)
		r.Get("/packages/{id}", s.handleGetPackage)
		r.Delete("/packages/{id}", s.handleDeletePackage)
		r.Post("/proposals", s.handleProposal)
		r.Get("/destinations", s.handleDestinations)
		r.Get("/status", s.handleStatus)
		r.Post("/index/rebuild", s.handleRebuild)
		r.Delete("/cache", s.handleClearCache)
		r.Get("/evaluation", s.handleEvaluationReport)
		r.Post("/evaluation/baseline", s.handleSetBaseline)
	})
	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestTimeout leaves room for an extraction and a generation call.
func (s *Server) requestTimeout() time.Duration {
	if s.config == nil {
		return minRequestTimeout
	}
	return max(minRequestTimeout, 2*s.config.Generation.Timeout+30*time.Second)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
