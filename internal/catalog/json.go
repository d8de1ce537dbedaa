package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// parseJSON accepts a top-level array of records or an object with a
// "packages" array.
func parseJSON(content []byte) ([]map[string]any, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return nil, nil
	}
	if content[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(content, &records); err != nil {
			return nil, fmt.Errorf("parse JSON catalog: %w", err)
		}
		return records, nil
	}
	var wrapped struct {
		Packages []map[string]any `json:"packages"`
	}
	if err := json.Unmarshal(content, &wrapped); err != nil {
		return nil, fmt.Errorf("parse JSON catalog: %w", err)
	}
	return wrapped.Packages, nil
}
