package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/cache"
	"github.com/hyperjump/tabi/internal/catalog"
	"github.com/hyperjump/tabi/internal/config"
	"github.com/hyperjump/tabi/internal/embedding"
	"github.com/hyperjump/tabi/internal/evaluation"
	"github.com/hyperjump/tabi/internal/generation"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/ingest"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/internal/proposal"
	"github.com/hyperjump/tabi/internal/ranking"
	"github.com/hyperjump/tabi/internal/search"
	"github.com/hyperjump/tabi/internal/server"
	"github.com/hyperjump/tabi/internal/storage"
	"github.com/hyperjump/tabi/pkg/utils"
)

// Components holds initialized services. Each is constructed once and shared.
type Components struct {
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Storage      *storage.SQLiteStorage
	Embeddings   *embedding.Cache
	Index        *indexer.Manager
	Engine       *search.Engine
	Ingest       *ingest.Service
	Responses    *cache.ResponseCache
	Destinations *cache.DestinationCache
	Evaluator    *evaluation.Evaluator
	Pipeline     *proposal.Pipeline
}

// Close saves the evaluation session, flushes the caches and releases
// storage and the embedder.
func (c *Components) Close() {
	if c.Evaluator != nil && c.Evaluator.Samples() > 0 {
		_, _ = c.Evaluator.SaveSession()
	}
	if c.Responses != nil {
		c.Responses.Store().Flush()
	}
	if c.Destinations != nil {
		c.Destinations.Store().Flush()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embeddings != nil {
		_ = c.Embeddings.Close()
	}
}

// Dependencies returns the server dependencies backed by these components.
func (c *Components) Dependencies(watch server.WatchService) server.Dependencies {
	deps := server.Dependencies{
		Searcher:     c.Engine,
		Index:        c.Index,
		Catalog:      c.Ingest,
		Storage:      c.Storage,
		Proposer:     c.Pipeline,
		Embeddings:   c.Embeddings,
		Responses:    c.Responses,
		Destinations: c.Destinations,
		Evaluator:    c.Evaluator,
		Gatherer:     c.Registry,
	}
	if watch != nil {
		deps.Watch = watch
	}
	return deps
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger = utils.LoggerOrNop(logger)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)
	c := &Components{Registry: reg, Metrics: mt}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	ollama := embedding.NewOllamaEmbedder(embedding.OllamaConfig{
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		Timeout:           cfg.Embedding.Timeout,
		Dimensions:        cfg.Embedding.Dimensions,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	c.Embeddings = embedding.NewCache(ollama, cfg.Embedding.Dimensions,
		embedding.WithCapacity(cfg.Embedding.CacheSize),
		embedding.WithMetrics(mt),
		embedding.WithLogger(logger),
	)

	c.Index, err = indexer.NewManager(indexer.Config{
		Dimensions:       cfg.Embedding.Dimensions,
		Metric:           cfg.Index.Metric,
		RebuildInterval:  cfg.Index.RebuildInterval,
		RebuildThreshold: cfg.Index.RebuildThreshold,
		StatePath:        cfg.Storage.IndexPath,
	}, c.Embeddings, indexer.WithLogger(logger), indexer.WithMetrics(mt))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	c.Engine = search.NewEngine(c.Index, c.Embeddings, search.Config{
		Dimensions:      cfg.Embedding.Dimensions,
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
		OverfetchFactor: cfg.Search.OverfetchFactor,
		CategoryBoost:   cfg.Search.CategoryBoostOrDefault(),
	},
		search.WithLogger(logger),
		search.WithMetrics(mt),
		search.WithRanker(ranking.NewRanker(&cfg.Ranking)),
	)

	c.Ingest = ingest.NewService(store, c.Index,
		ingest.WithLogger(logger),
		ingest.WithMetrics(mt),
		ingest.WithLoader(catalog.NewLoader(catalog.WithLogger(logger))),
	)

	cacheOpts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(mt)}
	c.Responses, err = cache.NewResponseCache(cfg.Storage.ResponseCacheDir,
		cfg.Cache.ResponseTTL, cfg.Cache.ResponseMaxSize, cfg.Cache.EvictBatch, cacheOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}
	c.Destinations, err = cache.NewDestinationCache(cfg.Storage.DestinationCacheDir,
		cfg.Cache.DestinationTTL, cfg.Cache.DestinationMaxSize, cfg.Cache.EvictBatch, cacheOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize destination cache: %w", err)
	}
	loaded := c.Responses.Store().LoadAll() + c.Destinations.Store().LoadAll()
	logger.Debug("caches loaded", zap.Int("entries", loaded))

	c.Evaluator, err = evaluation.New(cfg.Storage.EvaluationDir,
		evaluation.WithLogger(logger), evaluation.WithMetrics(mt))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize evaluator: %w", err)
	}

	gen := generation.NewOllamaGenerator(generation.OllamaConfig{
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Timeout:     cfg.Generation.Timeout,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	})
	c.Pipeline = proposal.NewPipeline(c.Engine, gen,
		proposal.WithLogger(logger),
		proposal.WithResponseCache(c.Responses),
		proposal.WithDestinationCache(c.Destinations),
		proposal.WithEvaluator(c.Evaluator),
	)
	return c, nil
}
