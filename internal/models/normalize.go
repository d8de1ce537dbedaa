package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrAnonymousPackage is returned when raw input has neither an id nor a name.
var ErrAnonymousPackage = errors.New("package has neither id nor name")

// NormalizePackage converts a loosely-typed package record (as found in JSON
// catalogs and spreadsheets) into a Package. It accepts "destination" as an
// alias for "location", prices as numbers, numeric strings or
// {"amount","currency"} objects, and activities as strings or objects.
// A missing id is derived from name and location.
func NormalizePackage(raw map[string]any) (*Package, error) {
	p := &Package{
		ID:          stringField(raw, "id"),
		Name:        stringField(raw, "name"),
		Location:    stringField(raw, "location"),
		Description: stringField(raw, "description"),
		Duration:    stringField(raw, "duration"),
		Country:     stringField(raw, "country"),
		Continent:   stringField(raw, "continent"),
		Source:      stringField(raw, "source"),
	}
	if p.ID == "" && p.Name == "" {
		return nil, ErrAnonymousPackage
	}
	if p.Location == "" {
		p.Location = stringField(raw, "destination")
	}

	price, err := parsePrice(raw["price"])
	if err != nil {
		return nil, fmt.Errorf("package %q: %w", p.Name, err)
	}
	p.Price = price
	p.Activities = parseActivities(raw["activities"])
	p.Highlights = stringList(raw["highlights"])
	p.Tags = stringList(raw["tags"])
	p.EnsureID()
	return p, nil
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func parsePrice(v any) (Price, error) {
	switch p := v.(type) {
	case nil:
		return Price{Currency: "USD"}, nil
	case float64:
		return Price{Amount: p, Currency: "USD"}, nil
	case int:
		return Price{Amount: float64(p), Currency: "USD"}, nil
	case int64:
		return Price{Amount: float64(p), Currency: "USD"}, nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "$"))
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return Price{Currency: "USD"}, nil
		}
		amount, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Price{}, fmt.Errorf("invalid price %q", p)
		}
		return Price{Amount: amount, Currency: "USD"}, nil
	case map[string]any:
		price, err := parsePrice(p["amount"])
		if err != nil {
			return Price{}, err
		}
		if c := stringField(p, "currency"); c != "" {
			price.Currency = c
		}
		return price, nil
	default:
		return Price{}, fmt.Errorf("unsupported price type %T", v)
	}
}

func parseActivities(v any) []Activity {
	items, ok := v.([]any)
	if !ok {
		if names, ok := v.([]string); ok {
			items = make([]any, len(names))
			for i, n := range names {
				items[i] = n
			}
		}
	}
	var out []Activity
	for _, item := range items {
		switch a := item.(type) {
		case string:
			if name := strings.TrimSpace(a); name != "" {
				out = append(out, Activity{Name: name, Included: true})
			}
		case map[string]any:
			name := stringField(a, "name")
			if name == "" {
				continue
			}
			included := true
			if inc, ok := a["included_in_package"].(bool); ok {
				included = inc
			}
			out = append(out, Activity{Name: name, Description: stringField(a, "description"), Included: included})
		}
	}
	return out
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if l == "" {
			return nil
		}
		return []string{l}
	}
	return nil
}
