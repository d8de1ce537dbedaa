// Package cli formats command output for the tabi CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/tabi/internal/cache"
	"github.com/hyperjump/tabi/internal/evaluation"
	"github.com/hyperjump/tabi/internal/ingest"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

// OutputFormat selects human or machine output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat returns the format named by s, or an error.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d packages in %dms", response.Total, response.QueryTime)
	if response.Category != "" {
		fmt.Fprintf(w, " (category: %s)", response.Category)
	}
	fmt.Fprintln(w)
	if response.Degraded {
		fmt.Fprintln(w, "Warning: embedding service unavailable, results use a fallback query vector")
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	p := result.Package
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Similarity: %.4f, Boost: %.2f)\n",
		result.Rank, result.Score, result.Similarity, result.Boost)
	fmt.Fprintf(w, "%s (%s)\n", p.Name, p.Location)
	fmt.Fprintf(w, "ID: %s | Price: %s\n", p.ID, FormatPrice(p.Price))
	if names := p.ActivityNames(); len(names) > 0 {
		fmt.Fprintf(w, "Activities: %s\n", TruncateWords(strings.Join(names, ", "), 20))
	}
	if p.Description != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(p.Description, 200))
	}
	fmt.Fprintln(w)
}

// FormatPrice renders a price like "1200 USD".
func FormatPrice(p models.Price) string {
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%.0f %s", p.Amount, currency)
}

// WriteProposal writes a proposal bundle.
func WriteProposal(w io.Writer, resp *models.ProposalResponse, cached bool, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, struct {
			*models.ProposalResponse
			Cached bool `json:"cached"`
		}{resp, cached})
	}
	source := "generated"
	if cached {
		source = "cached"
	}
	fmt.Fprintf(w, "Proposal (%s, %.2fs)\n", source, resp.ProcessingTime)
	fmt.Fprintf(w, "Query: %s\n", resp.Query)
	if len(resp.Packages) > 0 {
		fmt.Fprintln(w, "Packages:")
		for i, p := range resp.Packages {
			fmt.Fprintf(w, "  %d. %s (%s) %s\n", i+1, p.Name, p.Location, FormatPrice(p.Price))
		}
	}
	fmt.Fprintf(w, "\n%s\n", resp.Proposal)
	return nil
}

// WriteIngestResult writes an ingestion summary.
func WriteIngestResult(w io.Writer, res *ingest.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "Files: %d | Added: %d | Updated: %d | Skipped: %d | Failed: %d | Removed: %d",
		res.Files, res.Added, res.Updated, res.Skipped, res.Failed, res.Removed)
	if res.Rebuilt {
		fmt.Fprint(w, " | index rebuilt")
	}
	fmt.Fprintln(w)
	return nil
}

// WriteCacheStats writes persistent cache statistics sorted by cache name.
func WriteCacheStats(w io.Writer, stats []cache.Stats, format OutputFormat) error {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	for _, s := range stats {
		limit := "unbounded"
		if s.MaxSize > 0 {
			limit = fmt.Sprintf("max %d", s.MaxSize)
		}
		fmt.Fprintf(w, "%-12s %5d entries (%s) hits=%d misses=%d\n", s.Name, s.Entries, limit, s.Hits, s.Misses)
	}
	return nil
}

// WriteEvaluationReport prints per-stage metric averages, each followed by
// its percent change from the baseline when one is known.
func WriteEvaluationReport(w io.Writer, r *evaluation.Report, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	fmt.Fprintf(w, "session: %s\n", r.SessionID)
	if r.BaselineSession != "" {
		fmt.Fprintf(w, "baseline: %s\n", r.BaselineSession)
	}
	for _, st := range evaluation.Stages {
		avg := r.Averages[st]
		fmt.Fprintf(w, "\n%s (%d samples)\n", st, r.SampleCount[st])
		keys := make([]string, 0, len(avg))
		for k := range avg {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line := fmt.Sprintf("  %-24s %10.3f", k, avg[k])
			if c, ok := r.BaselineComparison[st][k]; ok && c.PercentChange != nil {
				line += fmt.Sprintf("  (%+.1f%%)", *c.PercentChange)
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
