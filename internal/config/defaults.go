package config

import (
	"path/filepath"
	"time"
)

// DefaultDataDir holds the database, index state and caches unless overridden.
const DefaultDataDir = "/usr/local/var/tabi/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "db", "packages.db")
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = filepath.Join(cfg.Storage.DataDir, "index", "state.gob")
	}
	if cfg.Storage.ResponseCacheDir == "" {
		cfg.Storage.ResponseCacheDir = filepath.Join(cfg.Storage.DataDir, "cache", "responses")
	}
	if cfg.Storage.DestinationCacheDir == "" {
		cfg.Storage.DestinationCacheDir = filepath.Join(cfg.Storage.DataDir, "cache", "destinations")
	}
	if cfg.Storage.EvaluationDir == "" {
		cfg.Storage.EvaluationDir = filepath.Join(cfg.Storage.DataDir, "metrics")
	}

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = cfg.Embedding.BaseURL
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.2"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 120 * time.Second
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}

	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "l2"
	}
	if cfg.Index.RebuildInterval == 0 {
		cfg.Index.RebuildInterval = 10
	}
	if cfg.Index.RebuildThreshold == 0 {
		cfg.Index.RebuildThreshold = 10
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.OverfetchFactor == 0 {
		cfg.Search.OverfetchFactor = 2
	}
	cfg.Ranking.ApplyDefaults()

	if cfg.Cache.ResponseTTL == 0 {
		cfg.Cache.ResponseTTL = 7 * 24 * time.Hour
	}
	if cfg.Cache.ResponseMaxSize == 0 {
		cfg.Cache.ResponseMaxSize = 1000
	}
	if cfg.Cache.DestinationTTL == 0 {
		cfg.Cache.DestinationTTL = 30 * 24 * time.Hour
	}
	if cfg.Cache.EvictBatch == 0 {
		cfg.Cache.EvictBatch = 10
	}

	if cfg.Watch.Patterns == nil {
		cfg.Watch.Patterns = []string{"**/*.json", "**/*.xlsx"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
