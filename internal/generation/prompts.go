package generation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/tabi/internal/models"
)

// DefaultDays is the itinerary length when the inquiry gives no usable duration.
const DefaultDays = 5

// maxDays caps how many day sections a prompt asks for.
const maxDays = 21

// ItinerarySystem is the system prompt for itinerary generation.
const ItinerarySystem = `You are an expert travel planner creating personalized travel itineraries.
Write a detailed day-by-day itinerary with specific locations, attractions, restaurants and activities for each part of the day.
Use actual names of places, not generic descriptions. Make realistic time allocations.
Do not use an email format. Present the itinerary directly, without introduction or closing paragraphs.`

var digits = regexp.MustCompile(`\d+`)

// DurationDays parses durations such as "7 days", "2 weeks" or "10". It
// returns DefaultDays when no number is present.
func DurationDays(duration string) int {
	d := strings.ToLower(duration)
	n := digits.FindString(d)
	if n == "" {
		return DefaultDays
	}
	days, err := strconv.Atoi(n)
	if err != nil || days <= 0 {
		return DefaultDays
	}
	if strings.Contains(d, "week") {
		days *= 7
	}
	return min(days, maxDays)
}

// ItineraryPrompt renders the prompt for a day-by-day itinerary. packages
// inspire activities but are not quoted verbatim.
func ItineraryPrompt(inq models.Inquiry, packages []*models.Package) string {
	destination := inq.Destination
	if destination == "" {
		for _, p := range packages {
			if p.Location != "" {
				destination = p.Location
				break
			}
		}
	}
	if destination == "" {
		destination = "the chosen destination"
	}
	travelType := orDefault(inq.TravelType, "vacation")
	days := DurationDays(inq.Duration)

	var interests []string
	if inq.Interests != "" {
		interests = append(interests, inq.Interests)
	}
	for _, p := range packages {
		for _, a := range p.ActivityNames() {
			if len(interests) >= 6 {
				break
			}
			interests = append(interests, a)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed %d-day travel itinerary for a %s to %s.\n\n", days, travelType, destination)
	b.WriteString("Client Information:\n")
	fmt.Fprintf(&b, "- Destination: %s\n", destination)
	fmt.Fprintf(&b, "- Trip Type: %s\n", travelType)
	fmt.Fprintf(&b, "- Duration: %d days\n", days)
	fmt.Fprintf(&b, "- Travel Dates: %s\n", orDefault(inq.TravelDate, "Not specified"))
	fmt.Fprintf(&b, "- Number of Travelers: %s\n", orDefault(inq.Travelers, "Not specified"))
	fmt.Fprintf(&b, "- Budget: %s\n", orDefault(inq.Budget, "Not specified"))
	fmt.Fprintf(&b, "- Special Interests: %s\n", orDefault(strings.Join(interests, ", "), "Not specified"))
	fmt.Fprintf(&b, "- Hotel Preferences: %s\n", orDefault(inq.HotelPref, "Not specified"))
	fmt.Fprintf(&b, "- Flight Preferences: %s\n", orDefault(inq.FlightPref, "Not specified"))
	if inq.Allergy != "" {
		fmt.Fprintf(&b, "- Allergies: %s\n", inq.Allergy)
	}

	fmt.Fprintf(&b, "\n# %d-Day Itinerary for %s\n\n## Overview\n", days, destination)
	for day := 1; day <= days; day++ {
		fmt.Fprintf(&b, "\n## Day %d\n### Morning\n### Afternoon\n### Evening\n", day)
	}
	b.WriteString("\n## Practical Information\n")
	b.WriteString("### Recommended Accommodations\n### Transportation Options\n### Estimated Costs\n")

	if len(packages) > 0 {
		b.WriteString("\n# Reference Packages\n")
		for i, p := range packages {
			fmt.Fprintf(&b, "%d. %s (%s)", i+1, p.Name, p.Location)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

var greetings = []string{"dear ", "hello", "hi ", "greetings", "thank you", "regards", "sincerely"}

// CleanItinerary drops letter-style greeting and closing lines. Lines after
// a greeting are dropped until the next markdown heading.
func CleanItinerary(text string) string {
	var out []string
	skipping := false
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		if containsAny(lower, greetings) {
			skipping = true
			continue
		}
		if skipping && strings.HasPrefix(strings.TrimSpace(line), "#") {
			skipping = false
		}
		if !skipping {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
