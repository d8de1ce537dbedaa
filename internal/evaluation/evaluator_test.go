package evaluation

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/tabi/internal/models"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newClock() *stepClock {
	return &stepClock{now: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func samplePackages() []*models.Package {
	return []*models.Package{
		{
			ID: "p1", Location: "Bali", Price: models.Price{Amount: 1200},
			Description: "Sunny beach villas",
			Activities:  []models.Activity{{Name: "Snorkeling"}},
		},
		{
			ID: "p2", Location: "Bali", Price: models.Price{Amount: 2000},
			Description: "Temple and heritage walks",
		},
		{
			ID: "p3", Location: "Kyoto", Price: models.Price{Amount: 1500},
			Description: "Tea ceremony",
			Activities:  []models.Activity{{Name: "Museum tour"}, {Name: "Culinary class"}},
		},
	}
}

func TestEvaluateExtraction(t *testing.T) {
	e, err := New("", WithClock(newClock().Now))
	if err != nil {
		t.Fatal(err)
	}
	inq := models.Inquiry{Destination: "Bali", Budget: "$3000", Duration: "5 days", HotelPref: "villa"}
	truth := models.Inquiry{Destination: "bali", Budget: "$2000", Duration: "5 days"}

	res := e.EvaluateExtraction("Bali for 5 days", inq, &truth)
	m := res.Metrics
	if m["fields_extracted"] != 3 {
		t.Errorf("fields_extracted = %v, want 3 (hotel preference is not scored)", m["fields_extracted"])
	}
	if !near(m["extraction_completeness"], 3.0/7) {
		t.Errorf("completeness = %v", m["extraction_completeness"])
	}
	// destination and duration match, budget differs, the four empty fields agree.
	if !near(m["accuracy"], 6.0/7) {
		t.Errorf("accuracy = %v", m["accuracy"])
	}
	if m["query_length"] != 15 {
		t.Errorf("query_length = %v", m["query_length"])
	}
	if _, ok := m["process_time_ms"]; !ok {
		t.Error("process time not recorded")
	}
	if res.Comparison != nil {
		t.Error("comparison without a baseline")
	}
}

func TestEvaluateRetrieval(t *testing.T) {
	e, _ := New("")
	res := e.EvaluateRetrieval("beach bali", samplePackages(), 40*time.Millisecond, []string{"p1", "p9"})
	m := res.Metrics

	tests := []struct {
		key  string
		want float64
	}{
		{"packages_count", 3},
		{"unique_locations", 2},
		{"location_diversity", 2.0 / 3},
		// beach, culture (heritage), city (museum), food (culinary)
		{"themes", 4},
		{"theme_diversity", 4.0 / 3},
		{"price_range_width", 800},
		{"latency_ms", 40},
		{"precision", 1.0 / 3},
		{"recall", 0.5},
		{"f1_score", 0.4},
	}
	for _, tt := range tests {
		if !near(m[tt.key], tt.want) {
			t.Errorf("%s = %v, want %v", tt.key, m[tt.key], tt.want)
		}
	}
}

func TestEvaluateRetrieval_NoPackages(t *testing.T) {
	e, _ := New("")
	m := e.EvaluateRetrieval("anything", nil, 0, nil).Metrics
	if m["price_range_width"] != 0 || m["location_diversity"] != 0 {
		t.Errorf("metrics = %v", m)
	}
	if _, ok := m["precision"]; ok {
		t.Error("precision needs relevant IDs")
	}
}

func TestEvaluateGeneration(t *testing.T) {
	e, _ := New("")
	inq := models.Inquiry{Destination: "Bali", Duration: "3 days", Budget: "$900"}
	proposal := "# Bali Escape\n## Day 1\n- Snorkeling at 9:00\n## Day 2\nRelax\n## Day 1 recap"

	m := e.EvaluateGeneration(inq, samplePackages(), proposal).Metrics
	if m["headings_count"] != 4 {
		t.Errorf("headings = %v", m["headings_count"])
	}
	if !near(m["structure_score"], 0.8) {
		t.Errorf("structure = %v", m["structure_score"])
	}
	// Only Bali appears; 3 days and $900 do not.
	if !near(m["customer_info_usage"], 1.0/3) {
		t.Errorf("customer_info_usage = %v", m["customer_info_usage"])
	}
	// Bali twice (p1, p2) and Snorkeling once, over 2 per package.
	if !near(m["package_info_usage"], 3.0/6) {
		t.Errorf("package_info_usage = %v", m["package_info_usage"])
	}
	if m["day_structure"] != 2 {
		t.Errorf("day_structure = %v, want distinct days", m["day_structure"])
	}
	if !near(m["information_density"], 1.0/6) {
		t.Errorf("information_density = %v", m["information_density"])
	}
	want := 0.8*0.3 + (1.0/3)*0.3 + 0.5*0.2 + (1.0/6)*0.2
	if !near(m["quality_score"], want) {
		t.Errorf("quality = %v, want %v", m["quality_score"], want)
	}
}

func TestEvaluateEndToEnd(t *testing.T) {
	e, _ := New("")
	proposal := "First part. Still first!\n\nSecond part?"
	m := e.EvaluateEndToEnd("inquiry", proposal, 2*time.Second).Metrics
	if m["paragraph_count"] != 2 || m["sentence_count"] != 3 || m["word_count"] != 6 {
		t.Errorf("counts = %v", m)
	}
	if !near(m["efficiency_ratio"], float64(len(proposal))/2) {
		t.Errorf("efficiency_ratio = %v", m["efficiency_ratio"])
	}
	if m["total_processing_time"] != 2 {
		t.Errorf("total = %v", m["total_processing_time"])
	}

	m = e.EvaluateEndToEnd("inquiry", proposal, 0).Metrics
	if _, ok := m["total_processing_time"]; ok || m["efficiency_ratio"] != 0 {
		t.Errorf("unknown duration metrics = %v", m)
	}
}

func TestReport_Averages(t *testing.T) {
	e, _ := New("")
	e.EvaluateRetrieval("q", samplePackages()[:1], 10*time.Millisecond, nil)
	e.EvaluateRetrieval("q", samplePackages(), 30*time.Millisecond, nil)

	r := e.Report()
	if r.SampleCount[StageRetrieval] != 2 || r.SampleCount[StageGeneration] != 0 {
		t.Errorf("sample counts = %v", r.SampleCount)
	}
	if got := r.Averages[StageRetrieval]["latency_ms"]; !near(got, 20) {
		t.Errorf("avg latency = %v", got)
	}
	if len(r.Averages[StageGeneration]) != 0 {
		t.Error("stage without samples should have no averages")
	}
	if r.BaselineComparison != nil {
		t.Error("comparison without a baseline")
	}
}

func TestBaseline_PersistAndCompare(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir, WithClock(newClock().Now))
	if err != nil {
		t.Fatal(err)
	}
	first.EvaluateRetrieval("q", samplePackages(), 100*time.Millisecond, nil)
	first.EvaluateEndToEnd("q", "short", 0)
	if _, err := first.SetBaseline(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, baselineFile)); err != nil {
		t.Fatalf("baseline not written: %v", err)
	}

	second, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	b := second.Baseline()
	if b == nil || b.SessionID != first.SessionID() {
		t.Fatalf("baseline not loaded: %+v", b)
	}

	res := second.EvaluateRetrieval("q", samplePackages()[:1], 50*time.Millisecond, nil)
	c, ok := res.Comparison["latency_ms"]
	if !ok {
		t.Fatalf("comparison = %v", res.Comparison)
	}
	if c.Baseline != 100 || c.Current != 50 || c.Change != -50 || c.PercentChange == nil || *c.PercentChange != -50 {
		t.Errorf("latency change = %+v", c)
	}
	// Baseline price range width was non-zero; the single package has none.
	if c := res.Comparison["price_range_width"]; c.Current != 0 || c.Baseline != 800 {
		t.Errorf("price range change = %+v", c)
	}
	if _, ok := res.Comparison["process_time_ms"]; ok {
		t.Error("process time should not be compared")
	}

	r := second.Report()
	if r.BaselineSession != first.SessionID() {
		t.Errorf("baseline session = %q", r.BaselineSession)
	}
	if _, ok := r.BaselineComparison[StageRetrieval]["unique_locations"]; !ok {
		t.Errorf("report comparison = %v", r.BaselineComparison)
	}
	if len(r.BaselineComparison[StageGeneration]) != 0 {
		t.Error("stage absent from the baseline should have no comparison")
	}
}

func TestCompare_ZeroBaseline(t *testing.T) {
	got := compare(map[string]float64{"x": 0}, map[string]float64{"x": 2, "y": 1})
	if len(got) != 1 {
		t.Fatalf("compare = %v", got)
	}
	if got["x"].PercentChange != nil {
		t.Error("percent change against zero should be nil")
	}
	if _, err := json.Marshal(got); err != nil {
		t.Errorf("comparison must encode: %v", err)
	}
}

func TestSaveSessionAndResume(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, WithClock(newClock().Now))
	if err != nil {
		t.Fatal(err)
	}
	e.EvaluateExtraction("Bali", models.Inquiry{Destination: "Bali"}, nil)
	path, err := e.SaveSession()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "session_20250601_093000.json" {
		t.Errorf("session file = %s", path)
	}

	resumed, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := resumed.ResumeLatest()
	if err != nil || !ok {
		t.Fatalf("ResumeLatest = %v, %v", ok, err)
	}
	if resumed.SessionID() != e.SessionID() {
		t.Errorf("session = %q, want %q", resumed.SessionID(), e.SessionID())
	}
	if n := resumed.Report().SampleCount[StageExtraction]; n != 1 {
		t.Errorf("resumed samples = %d", n)
	}
}

func TestInMemoryEvaluatorWritesNothing(t *testing.T) {
	e, _ := New("")
	if path, err := e.SaveSession(); err != nil || path != "" {
		t.Errorf("SaveSession = %q, %v", path, err)
	}
	if _, err := e.SetBaseline(); err != nil {
		t.Fatal(err)
	}
	if e.Baseline() == nil {
		t.Error("baseline should be kept in memory")
	}
	if ok, _ := e.ResumeLatest(); ok {
		t.Error("nothing to resume")
	}
}

func TestNew_CorruptBaselineIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, baselineFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	e, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if e.Baseline() != nil {
		t.Error("corrupt baseline should be ignored")
	}
}
