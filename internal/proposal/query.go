package proposal

import (
	"strings"

	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

// fallbackQuery is used when neither the inquiry fields nor its text give
// anything to search for.
const fallbackQuery = "travel package"

// maxTextQuery bounds the raw-text fallback query.
const maxTextQuery = 200

// BuildQuery renders the retrieval query for an inquiry: destination, one
// category hint line derived from interests and travel type, then budget,
// travelers and dates. With no extracted fields the inquiry text is used.
func BuildQuery(inq models.Inquiry, text string) string {
	var parts []string
	if inq.Destination != "" {
		parts = append(parts, "destination: "+inq.Destination)
	}

	interests := strings.ToLower(inq.Interests)
	travelType := strings.ToLower(inq.TravelType)
	switch {
	case strings.Contains(interests, "beach") || strings.Contains(travelType, "beach"):
		parts = append(parts, "type: beach vacation seaside ocean tropical")
	case strings.Contains(interests, "mountain") || strings.Contains(interests, "hik") || strings.Contains(travelType, "mountain"):
		parts = append(parts, "type: mountain vacation hiking nature outdoor")
	case strings.Contains(interests, "city") || strings.Contains(interests, "museum") || strings.Contains(travelType, "city"):
		parts = append(parts, "type: city vacation urban sightseeing cultural")
	case interests != "":
		parts = append(parts, "interests: "+interests)
	}

	if inq.Budget != "" {
		parts = append(parts, "budget: "+inq.Budget)
	}
	if inq.Travelers != "" {
		parts = append(parts, "travelers: "+inq.Travelers)
	}
	if inq.TravelDate != "" {
		parts = append(parts, "dates: "+inq.TravelDate)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if t := strings.Join(strings.Fields(text), " "); t != "" {
		return utils.Truncate(t, maxTextQuery)
	}
	return fallbackQuery
}
