// Package config provides configuration loading and structs for the tabi server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/tabi/internal/ranking"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool                  `yaml:"debug"`
	Server     ServerConfig          `yaml:"server"`
	Storage    StorageConfig         `yaml:"storage"`
	Embedding  EmbeddingConfig       `yaml:"embedding"`
	Generation GenerationConfig      `yaml:"generation"`
	Index      IndexConfig           `yaml:"index"`
	Search     SearchConfig          `yaml:"search"`
	Ranking    ranking.RankingConfig `yaml:"ranking"`
	Cache      CacheConfig           `yaml:"cache"`
	Watch      WatchConfig           `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds on-disk locations. Paths left empty are derived from DataDir.
type StorageConfig struct {
	DataDir             string `yaml:"data_dir"`
	DatabasePath        string `yaml:"database_path"`
	IndexPath           string `yaml:"index_path"`
	ResponseCacheDir    string `yaml:"response_cache_dir"`
	DestinationCacheDir string `yaml:"destination_cache_dir"`
	// EvaluationDir holds pipeline evaluation sessions and the baseline.
	EvaluationDir string `yaml:"evaluation_dir"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
	// RequestsPerSecond limits calls to the service; 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GenerationConfig holds text generation service settings.
type GenerationConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Metric           string `yaml:"metric"`
	RebuildInterval  int    `yaml:"rebuild_interval"`
	RebuildThreshold int    `yaml:"rebuild_threshold"`
}

// SearchConfig holds search settings.
type SearchConfig struct {
	DefaultLimit    int   `yaml:"default_limit"`
	MaxLimit        int   `yaml:"max_limit"`
	OverfetchFactor int   `yaml:"overfetch_factor"`
	CategoryBoost   *bool `yaml:"category_boost"`
}

// CategoryBoostOrDefault returns whether category reranking is on; defaults to true when unset.
func (s *SearchConfig) CategoryBoostOrDefault() bool {
	if s.CategoryBoost != nil {
		return *s.CategoryBoost
	}
	return true
}

// CacheConfig holds response and destination cache settings.
type CacheConfig struct {
	ResponseTTL        time.Duration `yaml:"response_ttl"`
	ResponseMaxSize    int           `yaml:"response_max_size"`
	DestinationTTL     time.Duration `yaml:"destination_ttl"`
	DestinationMaxSize int           `yaml:"destination_max_size"`
	EvictBatch         int           `yaml:"evict_batch"`
}

// WatchConfig holds catalog directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	// Patterns are doublestar globs matched against paths relative to the
	// watched directory.
	Patterns  []string      `yaml:"patterns"`
	Recursive *bool         `yaml:"recursive"`
	Debounce  time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands
// paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if cfg.Storage.DataDir != "" {
		cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	}
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.ResponseCacheDir = expandPath(cfg.Storage.ResponseCacheDir, configDir)
	cfg.Storage.DestinationCacheDir = expandPath(cfg.Storage.DestinationCacheDir, configDir)
	cfg.Storage.EvaluationDir = expandPath(cfg.Storage.EvaluationDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive"))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("embedding.requests_per_second must not be negative"))
	}
	switch c.Index.Metric {
	case "l2", "ip":
	default:
		errs = append(errs, fmt.Errorf("index.metric %q not supported (l2, ip)", c.Index.Metric))
	}
	if c.Search.OverfetchFactor < 1 {
		errs = append(errs, fmt.Errorf("search.overfetch_factor must be at least 1"))
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		errs = append(errs, fmt.Errorf("search.max_limit %d below default_limit %d", c.Search.MaxLimit, c.Search.DefaultLimit))
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f out of range [0, 2]", c.Generation.Temperature))
	}
	if c.Cache.DestinationMaxSize < 0 {
		errs = append(errs, fmt.Errorf("cache.destination_max_size must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
