package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage reports bytes and file counts under local paths such as the staging
// directory and the SQLite database.
type DiskUsage struct {
	Bytes int64 `json:"bytes"`
	Files int   `json:"files"`
}

// DiskUsageOf sums the regular files at or below each path. Empty and missing
// paths contribute nothing.
func DiskUsageOf(paths ...string) (DiskUsage, error) {
	var usage DiskUsage
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
			usage.Bytes += info.Size()
			usage.Files++
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return DiskUsage{}, err
		}
	}
	return usage, nil
}
