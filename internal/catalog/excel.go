package catalog

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// parseExcel reads the first sheet. The first row names the fields; each
// following row is one record. Activities, highlights and tags cells are
// split on ";" or ",".
func parseExcel(content []byte) ([]map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []map[string]any
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			switch header[i] {
			case "activities", "highlights", "tags":
				rec[header[i]] = splitList(cell)
			default:
				rec[header[i]] = cell
			}
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

func splitList(cell string) []any {
	sep := ","
	if strings.Contains(cell, ";") {
		sep = ";"
	}
	var out []any
	for _, part := range strings.Split(cell, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
