package generation

import (
	"strings"
	"testing"

	"github.com/hyperjump/tabi/internal/models"
)

func TestDurationDays(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", DefaultDays},
		{"a while", DefaultDays},
		{"7 days", 7},
		{"2 weeks", 14},
		{"10", 10},
		{"90 days", maxDays},
		{"0 days", DefaultDays},
	}
	for _, tt := range tests {
		if got := DurationDays(tt.in); got != tt.want {
			t.Errorf("DurationDays(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestItineraryPrompt(t *testing.T) {
	inq := models.Inquiry{Destination: "Bali", Duration: "3 days", Budget: "$3000", Interests: "surfing"}
	pkgs := []*models.Package{{
		Name: "Bali Escape", Location: "Bali",
		Activities: []models.Activity{{Name: "Temple tour"}},
	}}
	p := ItineraryPrompt(inq, pkgs)
	for _, want := range []string{"3-day", "Bali", "$3000", "surfing, Temple tour", "## Day 3", "Bali Escape (Bali)"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "## Day 4") {
		t.Error("prompt should stop at the requested duration")
	}
}

func TestItineraryPrompt_destinationFromPackages(t *testing.T) {
	p := ItineraryPrompt(models.Inquiry{}, []*models.Package{{Name: "Trek", Location: "Zermatt"}})
	if !strings.Contains(p, "vacation to Zermatt") {
		t.Errorf("expected destination taken from packages:\n%s", p)
	}
	p = ItineraryPrompt(models.Inquiry{}, nil)
	if !strings.Contains(p, "the chosen destination") || !strings.Contains(p, "## Day 5") {
		t.Errorf("expected defaults:\n%s", p)
	}
}

func TestCleanItinerary(t *testing.T) {
	in := "Dear Customer,\nI am pleased to share.\n# Bali Trip\n## Day 1\nBeach\nBest regards,\nAgent"
	got := CleanItinerary(in)
	want := "# Bali Trip\n## Day 1\nBeach"
	if got != want {
		t.Errorf("CleanItinerary = %q, want %q", got, want)
	}
}
