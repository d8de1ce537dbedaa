package models

import "time"

// Inquiry holds the structured fields extracted from a customer's free-text
// inquiry. Empty strings mean "not mentioned".
type Inquiry struct {
	Destination string `json:"destination,omitempty"`
	TravelDate  string `json:"travel_date,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Budget      string `json:"budget,omitempty"`
	Travelers   string `json:"travelers,omitempty"`
	TravelType  string `json:"travel_type,omitempty"`
	Interests   string `json:"interests,omitempty"`
	HotelPref   string `json:"hotel_pref,omitempty"`
	FlightPref  string `json:"flight_pref,omitempty"`
	Allergy     string `json:"allergy,omitempty"`
}

// ProposalResponse is the full pipeline result bundle cached by the response cache.
type ProposalResponse struct {
	Inquiry  Inquiry    `json:"extracted_info"`
	Query    string     `json:"query"`
	Packages []*Package `json:"recommended_packages"`
	Proposal string     `json:"proposal"`
	// ProcessingTime is the uncached pipeline duration in seconds.
	ProcessingTime float64   `json:"processing_time"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// DestinationData is destination-scoped side data kept by the destination cache.
type DestinationData struct {
	Name            string     `json:"name"`
	Country         string     `json:"country,omitempty"`
	Continent       string     `json:"continent,omitempty"`
	Packages        []*Package `json:"packages,omitempty"`
	LastQuery       string     `json:"last_query,omitempty"`
	ProposalExcerpt string     `json:"proposal_excerpt,omitempty"`
}
