// Package proposal turns customer inquiries into travel proposals.
package proposal

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/generation"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

const extractionPrompt = `Extract the following information from this customer inquiry for a travel agency.

Format the output in this exact format, one field per line:
travel_date: [dates or NONE if not mentioned]
destination: [destination or NONE if not mentioned]
travel_type: [type of travel (vacation, business, honeymoon, etc.) or NONE if not mentioned]
duration: [duration in days or NONE if not mentioned]
budget: [budget amount or NONE if not mentioned]
num_travelers: [number of travelers or NONE if not mentioned]
optional_details: [other relevant details like preferences or requirements, or NONE]
hotel_pref: [hotel preferences or NONE if not mentioned]
flight_pref: [flight preferences or NONE if not mentioned]
allergy: [allergies or NONE if not mentioned]

Inquiry:
%s`

// Extractor pulls structured fields out of a free-text inquiry with a
// language model.
type Extractor struct {
	gen    generation.Generator
	logger *zap.Logger
}

// NewExtractor returns an Extractor backed by gen.
func NewExtractor(gen generation.Generator, logger *zap.Logger) *Extractor {
	return &Extractor{gen: gen, logger: utils.LoggerOrNop(logger)}
}

// Extract returns the fields found in text. A generation failure is logged
// and yields an empty Inquiry.
func (e *Extractor) Extract(ctx context.Context, text string) models.Inquiry {
	out, err := e.gen.Generate(ctx, fmt.Sprintf(extractionPrompt, text), "")
	if err != nil {
		e.logger.Warn("Inquiry extraction failed", zap.Error(err))
		return models.Inquiry{}
	}
	return ParseInquiry(out)
}

// ParseInquiry reads "key: value" lines. Unknown keys are ignored and
// NONE-like values are treated as missing.
func ParseInquiry(s string) models.Inquiry {
	var inq models.Inquiry
	for _, line := range strings.Split(s, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Trim(strings.TrimSpace(key), "-*# "))
		value = cleanValue(value)
		if value == "" {
			continue
		}
		switch key {
		case "travel_date", "dates":
			inq.TravelDate = value
		case "destination":
			inq.Destination = value
		case "travel_type":
			inq.TravelType = value
		case "duration":
			inq.Duration = value
		case "budget":
			inq.Budget = value
		case "num_travelers", "travelers":
			inq.Travelers = value
		case "optional_details", "interests":
			inq.Interests = value
		case "hotel_pref":
			inq.HotelPref = value
		case "flight_pref":
			inq.FlightPref = value
		case "allergy":
			inq.Allergy = value
		}
	}
	return inq
}

func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(v, "["), "]"))
	switch strings.ToLower(strings.TrimPrefix(v, "$")) {
	case "", "none", "n/a", "not mentioned", "not specified":
		return ""
	}
	return v
}
