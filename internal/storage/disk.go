package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of the named data locations.
type Usage struct {
	Total  int64            `json:"total_bytes"`
	ByName map[string]int64 `json:"by_name"`
}

// DiskUsage sums the size of each named path. A path may be a file or a
// directory (summed recursively). Missing paths count as zero.
func DiskUsage(paths map[string]string) (Usage, error) {
	u := Usage{ByName: make(map[string]int64, len(paths))}
	for name, p := range paths {
		n, err := DiskUsageBytes(p)
		if err != nil {
			return Usage{}, err
		}
		u.ByName[name] = n
		u.Total += n
	}
	return u, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Directories are summed recursively; missing and empty paths are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// SQLiteFiles returns dbPath with its write-ahead log companions.
func SQLiteFiles(dbPath string) []string {
	if dbPath == "" {
		return nil
	}
	files := []string{dbPath}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			files = append(files, dbPath+suffix)
		}
	}
	return files
}
