package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns match every catalog format LoadFile reads.
var DefaultPatterns = []string{"**/*.json", "**/*.xlsx"}

// Discover returns the files under root matching any of patterns, sorted and
// without duplicates. Patterns are relative to root and use doublestar syntax.
// A root that is itself a file is returned as-is when supported.
func Discover(root string, patterns []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if Supported(root) {
			return []string{root}, nil
		}
		return nil, nil
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	seen := make(map[string]bool)
	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			seen[filepath.Join(root, filepath.FromSlash(m))] = true
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Match reports whether the slash-separated path relative to a watched root
// matches any of patterns.
func Match(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
