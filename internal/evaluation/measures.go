package evaluation

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/tabi/internal/models"
)

var (
	headingPattern  = regexp.MustCompile(`(?m)^#+\s+.+$`)
	dayPattern      = regexp.MustCompile(`day\s+\d+`)
	detailPattern   = regexp.MustCompile(`\d+[:.]\d+|[$€£]\d+|^\s*-\s+\w+`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
)

// themes maps a retrieval theme to the words that signal it in a package's
// description or activities.
var themes = []struct {
	name  string
	words []string
}{
	{"beach", []string{"beach", "ocean", "sea"}},
	{"mountain", []string{"mountain", "hiking", "trek"}},
	{"city", []string{"city", "urban", "museum"}},
	{"culture", []string{"culture", "history", "heritage"}},
	{"food", []string{"food", "culinary", "gastronomy"}},
}

// extractionFields are the inquiry fields scored for completeness, keyed by
// their JSON names.
func extractionFields(inq models.Inquiry) map[string]string {
	return map[string]string{
		"destination": inq.Destination,
		"travel_date": inq.TravelDate,
		"travelers":   inq.Travelers,
		"budget":      inq.Budget,
		"interests":   inq.Interests,
		"duration":    inq.Duration,
		"travel_type": inq.TravelType,
	}
}

// inquiryValues returns every non-empty inquiry field.
func inquiryValues(inq models.Inquiry) []string {
	all := []string{
		inq.Destination, inq.TravelDate, inq.Duration, inq.Budget, inq.Travelers,
		inq.TravelType, inq.Interests, inq.HotelPref, inq.FlightPref, inq.Allergy,
	}
	out := all[:0]
	for _, v := range all {
		if present(v) {
			out = append(out, v)
		}
	}
	return out
}

func present(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && v != "None"
}

func extractionMeasures(text string, inq models.Inquiry, truth *models.Inquiry) map[string]float64 {
	fields := extractionFields(inq)
	filled := 0
	for _, v := range fields {
		if present(v) {
			filled++
		}
	}
	m := map[string]float64{
		"query_length":            float64(len(text)),
		"fields_extracted":        float64(filled),
		"extraction_completeness": float64(filled) / float64(len(fields)),
	}
	if truth != nil {
		correct := 0
		for k, want := range extractionFields(*truth) {
			if strings.EqualFold(strings.TrimSpace(fields[k]), strings.TrimSpace(want)) {
				correct++
			}
		}
		m["accuracy"] = float64(correct) / float64(len(fields))
	}
	return m
}

func retrievalMeasures(query string, pkgs []*models.Package, latency time.Duration, relevant []string) map[string]float64 {
	locations := make(map[string]struct{})
	found := make(map[string]struct{})
	lo, hi := math.Inf(1), 0.0
	for _, p := range pkgs {
		if p.Location != "" {
			locations[p.Location] = struct{}{}
		}
		if p.Price.Amount > 0 {
			lo = math.Min(lo, p.Price.Amount)
			hi = math.Max(hi, p.Price.Amount)
		}
		text := strings.ToLower(p.Description + " " + strings.Join(p.ActivityNames(), " "))
		for _, th := range themes {
			for _, w := range th.words {
				if strings.Contains(text, w) {
					found[th.name] = struct{}{}
					break
				}
			}
		}
	}

	n := float64(max(1, len(pkgs)))
	m := map[string]float64{
		"packages_count":     float64(len(pkgs)),
		"query_length":       float64(len(query)),
		"latency_ms":         float64(latency) / float64(time.Millisecond),
		"unique_locations":   float64(len(locations)),
		"themes":             float64(len(found)),
		"location_diversity": float64(len(locations)) / n,
		"theme_diversity":    float64(len(found)) / n,
		"price_range_width":  0,
	}
	if hi > lo {
		m["price_range_width"] = hi - lo
	}

	if len(relevant) > 0 {
		want := make(map[string]struct{}, len(relevant))
		for _, id := range relevant {
			want[id] = struct{}{}
		}
		hits := make(map[string]struct{})
		for _, p := range pkgs {
			if _, ok := want[p.ID]; ok {
				hits[p.ID] = struct{}{}
			}
		}
		precision := float64(len(hits)) / n
		recall := float64(len(hits)) / float64(len(want))
		m["precision"] = precision
		m["recall"] = recall
		m["f1_score"] = 0
		if precision+recall > 0 {
			m["f1_score"] = 2 * precision * recall / (precision + recall)
		}
	}
	return m
}

func generationMeasures(inq models.Inquiry, pkgs []*models.Package, proposal string) map[string]float64 {
	lower := strings.ToLower(proposal)

	headings := len(headingPattern.FindAllString(proposal, -1))
	structure := math.Min(1, float64(headings)/5)

	values := inquiryValues(inq)
	used := 0
	for _, v := range values {
		if strings.Contains(lower, strings.ToLower(v)) {
			used++
		}
	}
	customer := float64(used) / float64(max(1, len(values)))

	mentions := 0
	for _, p := range pkgs {
		if p.Location != "" && strings.Contains(lower, strings.ToLower(p.Location)) {
			mentions++
		}
		for _, a := range p.ActivityNames() {
			if strings.Contains(lower, strings.ToLower(a)) {
				mentions++
			}
		}
	}
	packageUsage := 0.0
	if len(pkgs) > 0 {
		packageUsage = math.Min(1, float64(mentions)/float64(2*len(pkgs)))
	}

	days := make(map[string]struct{})
	for _, d := range dayPattern.FindAllString(lower, -1) {
		days[d] = struct{}{}
	}

	lines := strings.Split(strings.TrimSpace(proposal), "\n")
	detailed := 0
	for _, line := range lines {
		if detailPattern.MatchString(line) {
			detailed++
		}
	}
	density := float64(detailed) / float64(max(1, len(lines)))

	return map[string]float64{
		"proposal_length":     float64(len(proposal)),
		"headings_count":      float64(headings),
		"structure_score":     structure,
		"customer_info_usage": customer,
		"package_info_usage":  packageUsage,
		"day_structure":       float64(len(days)),
		"information_density": density,
		"quality_score":       structure*0.3 + customer*0.3 + packageUsage*0.2 + density*0.2,
	}
}

func endToEndMeasures(text, proposal string, total time.Duration) map[string]float64 {
	paragraphs := strings.Count(proposal, "\n\n") + 1
	words := len(strings.Fields(proposal))
	sentences := len(sentencePattern.FindAllString(proposal, -1))
	m := map[string]float64{
		"query_length":       float64(len(text)),
		"response_length":    float64(len(proposal)),
		"paragraph_count":    float64(paragraphs),
		"word_count":         float64(words),
		"sentence_count":     float64(sentences),
		"words_per_sentence": float64(words) / float64(max(1, sentences)),
		"content_richness":   math.Min(1, float64(paragraphs)/10),
		"efficiency_ratio":   0,
	}
	if total > 0 {
		secs := total.Seconds()
		m["total_processing_time"] = secs
		m["efficiency_ratio"] = float64(len(proposal)) / math.Max(0.1, secs)
	}
	return m
}
