// Package evaluation scores each stage of the proposal pipeline, keeps the
// scores of the current session, and compares their averages against a
// saved baseline.
package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
	StageEndToEnd   Stage = "end_to_end"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageExtraction, StageRetrieval, StageGeneration, StageEndToEnd}

const (
	baselineFile  = "baseline_metrics.json"
	sessionPrefix = "session_"
	sessionLayout = "20060102_150405"
	labelLen      = 100
)

// Sample is one scored pipeline run for a stage.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	// Label is the truncated inquiry or query text the sample was taken for.
	Label   string             `json:"label,omitempty"`
	Metrics map[string]float64 `json:"metrics"`
}

// Change compares a metric against the baseline. PercentChange is nil when
// the baseline value is zero.
type Change struct {
	Baseline      float64  `json:"baseline"`
	Current       float64  `json:"current"`
	Change        float64  `json:"change"`
	PercentChange *float64 `json:"percent_change"`
}

// Result is the outcome of scoring one sample.
type Result struct {
	Metrics    map[string]float64 `json:"metrics"`
	Comparison map[string]Change  `json:"comparison,omitempty"`
}

// Baseline holds per-stage metric averages of a reference session.
type Baseline struct {
	SessionID string                       `json:"session_id"`
	Timestamp time.Time                    `json:"timestamp"`
	Stages    map[Stage]map[string]float64 `json:"stages"`
}

// Report summarizes the current session.
type Report struct {
	SessionID          string                       `json:"session_id"`
	Timestamp          time.Time                    `json:"timestamp"`
	Averages           map[Stage]map[string]float64 `json:"averages"`
	SampleCount        map[Stage]int                `json:"sample_count"`
	BaselineSession    string                       `json:"baseline_session,omitempty"`
	BaselineComparison map[Stage]map[string]Change  `json:"baseline_comparison,omitempty"`
}

// session is the on-disk shape of a session file.
type session struct {
	ID      string             `json:"session_id"`
	Samples map[Stage][]Sample `json:"samples"`
}

// Evaluator records pipeline scores. It is safe for concurrent use.
type Evaluator struct {
	dir     string
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	sessionID string
	samples   map[Stage][]Sample
	baseline  *Baseline
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.logger = utils.LoggerOrNop(l) }
}

// WithMetrics exports proposal quality scores on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an evaluator that keeps its files in dir, loading the baseline
// if one was saved. An empty dir keeps everything in memory.
func New(dir string, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		dir:     dir,
		now:     time.Now,
		logger:  zap.NewNop(),
		samples: make(map[Stage][]Sample),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sessionID = e.now().Format(sessionLayout)
	if dir == "" {
		return e, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create evaluation dir: %w", err)
	}
	b, err := readBaseline(filepath.Join(dir, baselineFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		e.logger.Warn("Ignoring unreadable evaluation baseline", zap.Error(err))
	default:
		e.baseline = b
	}
	return e, nil
}

// SessionID returns the identifier of the current session.
func (e *Evaluator) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// EvaluateExtraction scores the fields extracted from an inquiry. When truth
// is given, accuracy is the share of fields matching it.
func (e *Evaluator) EvaluateExtraction(text string, inq models.Inquiry, truth *models.Inquiry) Result {
	return e.record(StageExtraction, text, func() map[string]float64 {
		return extractionMeasures(text, inq, truth)
	})
}

// EvaluateRetrieval scores the diversity of retrieved packages and the
// retrieval latency. Precision, recall and F1 are added when the relevant
// package IDs are known.
func (e *Evaluator) EvaluateRetrieval(query string, pkgs []*models.Package, latency time.Duration, relevant []string) Result {
	return e.record(StageRetrieval, query, func() map[string]float64 {
		return retrievalMeasures(query, pkgs, latency, relevant)
	})
}

// EvaluateGeneration scores a proposal's structure and how much of the
// inquiry and package detail it carries.
func (e *Evaluator) EvaluateGeneration(inq models.Inquiry, pkgs []*models.Package, proposal string) Result {
	res := e.record(StageGeneration, "", func() map[string]float64 {
		return generationMeasures(inq, pkgs, proposal)
	})
	e.metrics.ObserveProposalQuality(res.Metrics["quality_score"])
	return res
}

// EvaluateEndToEnd scores a whole pipeline run. total is its wall time; zero
// means unknown.
func (e *Evaluator) EvaluateEndToEnd(text, proposal string, total time.Duration) Result {
	return e.record(StageEndToEnd, text, func() map[string]float64 {
		return endToEndMeasures(text, proposal, total)
	})
}

func (e *Evaluator) record(stage Stage, label string, measure func() map[string]float64) Result {
	start := e.now()
	m := measure()
	m["process_time_ms"] = float64(e.now().Sub(start)) / float64(time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples[stage] = append(e.samples[stage], Sample{
		Timestamp: start,
		Label:     utils.Truncate(label, labelLen),
		Metrics:   m,
	})
	res := Result{Metrics: m}
	if e.baseline != nil {
		res.Comparison = compare(e.baseline.Stages[stage], m)
	}
	return res
}

// Report averages the session's samples per stage and compares the averages
// against the baseline.
func (e *Evaluator) Report() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &Report{
		SessionID:   e.sessionID,
		Timestamp:   e.now(),
		Averages:    make(map[Stage]map[string]float64, len(Stages)),
		SampleCount: make(map[Stage]int, len(Stages)),
	}
	for _, st := range Stages {
		r.Averages[st] = average(e.samples[st])
		r.SampleCount[st] = len(e.samples[st])
	}
	if e.baseline != nil {
		r.BaselineSession = e.baseline.SessionID
		r.BaselineComparison = make(map[Stage]map[string]Change, len(Stages))
		for _, st := range Stages {
			r.BaselineComparison[st] = compare(e.baseline.Stages[st], r.Averages[st])
		}
	}
	return r
}

// Samples returns the number of samples recorded in the session.
func (e *Evaluator) Samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, samples := range e.samples {
		n += len(samples)
	}
	return n
}

// Baseline returns the current baseline, or nil if none is set.
func (e *Evaluator) Baseline() *Baseline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline
}

// SaveSession writes the session's samples to session_<id>.json and returns
// the file path. It is a no-op returning "" for an in-memory evaluator.
func (e *Evaluator) SaveSession() (string, error) {
	e.mu.Lock()
	s := session{ID: e.sessionID, Samples: make(map[Stage][]Sample, len(e.samples))}
	for st, samples := range e.samples {
		s.Samples[st] = append([]Sample(nil), samples...)
	}
	e.mu.Unlock()
	if e.dir == "" {
		return "", nil
	}
	path := filepath.Join(e.dir, sessionPrefix+s.ID+".json")
	if err := writeJSONAtomic(path, &s); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	e.logger.Info("Saved evaluation session", zap.String("path", path))
	return path, nil
}

// SetBaseline makes the current session's averages the baseline for later
// comparisons and persists it.
func (e *Evaluator) SetBaseline() (*Baseline, error) {
	e.mu.Lock()
	b := &Baseline{
		SessionID: e.sessionID,
		Timestamp: e.now(),
		Stages:    make(map[Stage]map[string]float64, len(Stages)),
	}
	for _, st := range Stages {
		b.Stages[st] = average(e.samples[st])
	}
	e.mu.Unlock()

	if e.dir != "" {
		if err := writeJSONAtomic(filepath.Join(e.dir, baselineFile), b); err != nil {
			return nil, fmt.Errorf("save baseline: %w", err)
		}
	}
	e.mu.Lock()
	e.baseline = b
	e.mu.Unlock()
	e.logger.Info("Set evaluation baseline", zap.String("session", b.SessionID))
	return b, nil
}

// ResumeLatest replaces the current session with the most recently saved
// one in the evaluator's directory. It reports whether a session was found.
func (e *Evaluator) ResumeLatest() (bool, error) {
	if e.dir == "" {
		return false, nil
	}
	files, err := filepath.Glob(filepath.Join(e.dir, sessionPrefix+"*.json"))
	if err != nil || len(files) == 0 {
		return false, err
	}
	// Session IDs are timestamps, so the lexically last file is the newest.
	sort.Strings(files)
	data, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		return false, err
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return false, fmt.Errorf("decode session: %w", err)
	}
	if s.ID == "" {
		s.ID = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(files[len(files)-1]), sessionPrefix), ".json")
	}
	if s.Samples == nil {
		s.Samples = make(map[Stage][]Sample)
	}
	e.mu.Lock()
	e.sessionID = s.ID
	e.samples = s.Samples
	e.mu.Unlock()
	return true, nil
}

func average(samples []Sample) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range samples {
		for k, v := range s.Metrics {
			sums[k] += v
			counts[k]++
		}
	}
	for k := range sums {
		sums[k] /= float64(counts[k])
	}
	return sums
}

// compare reports the change of every current metric that has a baseline value.
func compare(baseline, current map[string]float64) map[string]Change {
	if len(baseline) == 0 {
		return nil
	}
	out := make(map[string]Change)
	for k, cur := range current {
		if k == "process_time_ms" {
			continue
		}
		base, ok := baseline[k]
		if !ok {
			continue
		}
		c := Change{Baseline: base, Current: cur, Change: cur - base}
		if base != 0 {
			pct := c.Change / base * 100
			c.PercentChange = &pct
		}
		out[k] = c
	}
	return out
}

func readBaseline(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	return &b, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
