// Package main is the tabi CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/cache"
	"github.com/hyperjump/tabi/internal/cli"
	"github.com/hyperjump/tabi/internal/config"
	"github.com/hyperjump/tabi/internal/evaluation"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/server"
	"github.com/hyperjump/tabi/internal/storage"
	"github.com/hyperjump/tabi/internal/watcher"
	"github.com/hyperjump/tabi/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tabi/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present, and a missing default file yields
// the built-in defaults. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "reindex":
		runReindex()
	case "search":
		runSearch()
	case "propose":
		runPropose()
	case "status":
		runStatus()
	case "cache":
		runCache()
	case "evaluation":
		runEvaluation()
	case "version", "--version", "-v":
		fmt.Printf("tabi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger and initializes all components.
// It exits the process on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	noWatch := fs.Bool("no-watch", false, "do not watch catalog directories")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var watch server.WatchService
	if !*noWatch && len(cfg.Watch.Directories) > 0 {
		w := watcher.New(watcher.Config{
			Roots:     cfg.Watch.Directories,
			Patterns:  cfg.Watch.Patterns,
			Recursive: cfg.Watch.RecursiveOrDefault(),
			Debounce:  cfg.Watch.Debounce,
		}, components.Ingest, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go w.SyncExisting(ctx)
		watch = w
	}

	srv := server.NewServer(cfg, components.Dependencies(watch), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	pattern := fs.String("pattern", "", "comma-separated globs for directories (default from config)")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: tabi ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	patterns := cfg.Watch.Patterns
	if *pattern != "" {
		patterns = splitComma(*pattern)
	}
	res, err := components.Ingest.IngestPaths(context.Background(), fs.Args(), patterns)
	if res != nil {
		_ = cli.WriteIngestResult(os.Stdout, res, format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	res, err := components.Ingest.Reindex(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.Index.Rebuild(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	res.Rebuilt = true
	_ = cli.WriteIngestResult(os.Stdout, res, format)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse() sees them.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage directly)")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	noRerank := fs.Bool("no-rerank", false, "disable category reranking")
	location := fs.String("location", "", "only packages whose location contains this text")
	country := fs.String("country", "", "only packages in this country")
	maxPrice := fs.Float64("max-price", 0, "only packages priced at or below this amount")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: tabi search [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	query := &models.SearchQuery{Query: queryStr, Limit: *limit, DisableRerank: *noRerank}
	if filter := (&models.PackageFilter{Location: *location, Country: *country, MaxPrice: *maxPrice}); !filter.Empty() {
		query.Filter = filter
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response = new(models.SearchResponse)
		if err := postJSON(*serverURL+"/api/v1/search", query, response); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		response, err = components.Engine.Search(context.Background(), query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// readInquiry returns the inquiry from file, the positional args, or stdin,
// in that order of preference.
func readInquiry(file string, args []string, stdin io.Reader) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	if text := buildSearchQuery(args); text != "" {
		return text, nil
	}
	var b strings.Builder
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), scanner.Err()
}

type proposalRequest struct {
	Inquiry      string `json:"inquiry"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

type proposalReply struct {
	models.ProposalResponse
	Cached bool `json:"cached"`
}

func runPropose() {
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the pipeline locally)")
	file := fs.String("file", "", "read the inquiry from this file")
	force := fs.Bool("force", false, "bypass the response cache")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	inquiry, err := readInquiry(*file, fs.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read inquiry: %v\n", err)
		os.Exit(1)
	}
	if inquiry == "" {
		fmt.Println("Usage: tabi propose [flags] [inquiry text]   (or -file path, or stdin)")
		os.Exit(1)
	}

	var reply proposalReply
	if *serverURL != "" {
		if err := postJSON(*serverURL+"/api/v1/proposals", proposalRequest{Inquiry: inquiry, ForceRefresh: *force}, &reply); err != nil {
			fmt.Fprintf(os.Stderr, "Proposal failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		resp, cached, err := components.Pipeline.Process(context.Background(), inquiry, nil, *force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Proposal failed: %v\n", err)
			os.Exit(1)
		}
		reply = proposalReply{ProposalResponse: *resp, Cached: cached}
	}
	if err := cli.WriteProposal(os.Stdout, &reply.ProposalResponse, reply.Cached, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Packages         int64                  `json:"packages"`
	Index            indexer.Stats          `json:"index"`
	Caches           map[string]cache.Stats `json:"caches"`
	WatchDirectories []string               `json:"watch_directories,omitempty"`
	DiskUsage        *storage.Usage         `json:"disk_usage,omitempty"`
	Evaluation       *evaluation.Report     `json:"evaluation,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status statusResponse
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		count, err := components.Storage.CountPackages(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count packages failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Packages: count,
			Index:    components.Index.Stats(),
			Caches: map[string]cache.Stats{
				"responses":    components.Responses.Store().Stats(),
				"destinations": components.Destinations.Store().Stats(),
			},
		}
		if usage, err := storage.DiskUsage(storagePaths(cfg)); err == nil {
			status.DiskUsage = &usage
		}
		if ok, err := components.Evaluator.ResumeLatest(); err == nil && ok {
			status.Evaluation = components.Evaluator.Report()
		}
	}
	if err := writeStatus(os.Stdout, &status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func storagePaths(cfg *config.Config) map[string]string {
	st := cfg.Storage
	return map[string]string{
		"database":     st.DatabasePath,
		"index":        st.IndexPath,
		"responses":    st.ResponseCacheDir,
		"destinations": st.DestinationCacheDir,
		"evaluation":   st.EvaluationDir,
	}
}

func writeStatus(w io.Writer, status *statusResponse, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		return cli.WriteJSON(w, status)
	}
	idx := status.Index
	fmt.Fprintf(w, "packages:           %d\n", status.Packages)
	fmt.Fprintf(w, "indexed_documents:  %d\n", idx.Documents)
	fmt.Fprintf(w, "index_size:         %d   # vectors incl. %d tombstones\n", idx.IndexSize, idx.Tombstones)
	fmt.Fprintf(w, "metric:             %s (%d dims)\n", idx.Metric, idx.Dimensions)
	fmt.Fprintf(w, "updates_since_full: %d\n", idx.UpdateCount)
	if !idx.LastRebuild.IsZero() {
		fmt.Fprintf(w, "last_rebuild:       %s\n", idx.LastRebuild.Format(time.RFC3339))
	}
	if idx.Embedding != nil {
		fmt.Fprintf(w, "embedding_cache:    %d/%d (hit ratio %.2f)\n", idx.Embedding.Size, idx.Embedding.Capacity, idx.Embedding.HitRatio)
	}
	if status.DiskUsage != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", status.DiskUsage.Total)
	}
	for _, d := range status.WatchDirectories {
		fmt.Fprintf(w, "watching:           %s\n", d)
	}
	if len(status.Caches) > 0 {
		fmt.Fprintln(w)
		stats := make([]cache.Stats, 0, len(status.Caches))
		for _, s := range status.Caches {
			stats = append(stats, s)
		}
		if err := cli.WriteCacheStats(w, stats, format); err != nil {
			return err
		}
	}
	if status.Evaluation != nil {
		fmt.Fprintln(w)
		return cli.WriteEvaluationReport(w, status.Evaluation, format)
	}
	return nil
}

func runCache() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tabi cache <clear|stats|destinations> [flags]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	name := fs.String("name", "all", "cache to clear: all, responses or destinations")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[3:])
	format := parseFormat(*outputFormat)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	switch sub {
	case "clear":
		cleared, err := clearCaches(components, *name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("Cleared %d entries\n", cleared)
	case "stats":
		stats := []cache.Stats{components.Responses.Store().Stats(), components.Destinations.Store().Stats()}
		_ = cli.WriteCacheStats(os.Stdout, stats, format)
	case "destinations":
		dests := components.Destinations.Destinations()
		if format == cli.OutputJSON {
			_ = cli.WriteJSON(os.Stdout, dests)
			return
		}
		for _, d := range dests {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown cache subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runEvaluation() {
	fs := flag.NewFlagSet("evaluation", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the last saved session)")
	setBaseline := fs.Bool("set-baseline", false, "make the session the baseline for later comparisons")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var report evaluation.Report
	if *serverURL != "" {
		if *setBaseline {
			var b evaluation.Baseline
			if err := postJSON(*serverURL+"/api/v1/evaluation/baseline", struct{}{}, &b); err != nil {
				fmt.Fprintf(os.Stderr, "Set baseline failed: %v\n", err)
				os.Exit(1)
			}
		}
		if err := getJSON(*serverURL+"/api/v1/evaluation", &report); err != nil {
			fmt.Fprintf(os.Stderr, "Evaluation report failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		ev, err := evaluation.New(cfg.Storage.EvaluationDir, evaluation.WithLogger(logger))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open evaluation dir: %v\n", err)
			os.Exit(1)
		}
		ok, err := ev.ResumeLatest()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read last session: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("No evaluation sessions recorded yet")
			return
		}
		if *setBaseline {
			if _, err := ev.SetBaseline(); err != nil {
				fmt.Fprintf(os.Stderr, "Set baseline failed: %v\n", err)
				os.Exit(1)
			}
		}
		report = *ev.Report()
	}
	if err := cli.WriteEvaluationReport(os.Stdout, &report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func clearCaches(c *Components, name string) (int, error) {
	switch name {
	case "all", "":
		return c.Responses.Store().Clear() + c.Destinations.Store().Clear(), nil
	case "responses":
		return c.Responses.Store().Clear(), nil
	case "destinations":
		return c.Destinations.Store().Clear(), nil
	}
	return 0, fmt.Errorf("unknown cache %q (want all, responses or destinations)", name)
}

func postJSON(url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`tabi - Travel package search and proposal service

Usage:
  tabi server [flags]                   Start the HTTP server and catalog watcher
  tabi ingest [flags] <path>...         Load catalog files or directories
  tabi reindex [flags]                  Re-embed every stored package and rebuild the index
  tabi search [flags] <query>           Search packages
  tabi propose [flags] [inquiry]        Generate a travel proposal
  tabi status [flags]                   Show storage, index and cache status
  tabi cache <clear|stats|destinations> Manage the persistent caches
  tabi evaluation [flags]               Show pipeline evaluation scores against the baseline
  tabi version                          Show version
  tabi help                             Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/tabi/config.yaml)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging
  --no-watch         Do not watch catalog directories

Search / Propose / Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to run locally.
  --limit int        Number of search results (default from config)
  --no-rerank        Disable category reranking
  --location string  Only packages whose location contains this text (search)
  --country string   Only packages in this country (search)
  --max-price float  Only packages priced at or below this amount (search)
  --file string      Read the inquiry from a file (propose)
  --force            Bypass the response cache (propose)

Evaluation Flags:
  --server string    Server URL; use --server "" to read the last saved session
  --set-baseline     Make the session the baseline for later comparisons

Examples:
  tabi server
  tabi ingest ./catalog
  tabi search beach holiday in Bali
  tabi propose -file inquiry.txt
  tabi cache clear -name responses
  tabi evaluation --set-baseline
  tabi status --output json`)
}
