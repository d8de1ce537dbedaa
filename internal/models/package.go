// Package models defines core data structures for travel packages, queries,
// search results, and proposal bundles.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/tabi/internal/fingerprint"
)

// packageNamespace seeds UUIDv5 IDs for packages submitted without one.
var packageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tabi:package"))

// Price is a package price. Currency defaults to USD.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Activity is a single activity offered by a package.
type Activity struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Included    bool   `json:"included_in_package"`
}

// Package is a travel package in its single canonical shape. Heterogeneous
// input is converted once by NormalizePackage.
type Package struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	Duration    string     `json:"duration,omitempty"`
	Price       Price      `json:"price"`
	Activities  []Activity `json:"activities,omitempty"`
	Country     string     `json:"country,omitempty"`
	Continent   string     `json:"continent,omitempty"`
	Highlights  []string   `json:"highlights,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	// Source is the catalog file the package was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// DerivePackageID returns the deterministic ID used when a package has none.
func DerivePackageID(name, location string) string {
	return uuid.NewSHA1(packageNamespace, []byte(name+"|"+location)).String()
}

// EnsureID assigns a derived ID when p.ID is empty and returns the ID.
func (p *Package) EnsureID() string {
	if p.ID == "" {
		p.ID = DerivePackageID(p.Name, p.Location)
	}
	return p.ID
}

// ActivityNames returns the activity names in order.
func (p *Package) ActivityNames() []string {
	names := make([]string, 0, len(p.Activities))
	for _, a := range p.Activities {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}

// Fingerprint digests the canonical field subset used for change detection:
// id, name, description, location, activities and price.
func (p *Package) Fingerprint() string {
	activities, _ := json.Marshal(p.Activities)
	price, _ := json.Marshal(p.Price)
	fp, err := fingerprint.Canonical(map[string]string{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"location":    p.Location,
		"activities":  string(activities),
		"price":       string(price),
	})
	if err != nil {
		// map[string]string always encodes
		panic(err)
	}
	return fp
}

// EmbeddingText renders the package as the text sent to the embedder.
func (p *Package) EmbeddingText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Destination: %s\n", p.Location)
	fmt.Fprintf(&b, "Duration: %s\n", p.Duration)
	fmt.Fprintf(&b, "Price: $%s\n", strconv.FormatFloat(p.Price.Amount, 'f', -1, 64))
	activities := p.ActivityNames()
	if len(activities) > 0 {
		fmt.Fprintf(&b, "Activities: %s\n", strings.Join(activities, ", "))
	}
	if known(p.Country) {
		fmt.Fprintf(&b, "Country: %s\n", p.Country)
	}
	if known(p.Continent) {
		fmt.Fprintf(&b, "Continent: %s\n", p.Continent)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
		fmt.Fprintf(&b, "Keywords: %s\n", p.Description)
	}

	desc := strings.ToLower(p.Description)
	if strings.Contains(desc, "beach") || anyContains(activities, "beach") {
		b.WriteString("Type: Beach vacation, seaside, ocean, tropical\n")
	}
	if strings.Contains(desc, "mountain") || anyContains(activities, "hik") {
		b.WriteString("Type: Mountain vacation, hiking, nature, outdoor\n")
	}
	if strings.Contains(desc, "city") || anyContains(activities, "museum") {
		b.WriteString("Type: City vacation, urban, sightseeing, cultural\n")
	}
	return b.String()
}

func known(s string) bool {
	return s != "" && s != "Unknown"
}

func anyContains(values []string, sub string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), sub) {
			return true
		}
	}
	return false
}
