package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of a data directory, by area.
type Usage struct {
	Records    int64 `json:"records_bytes"`
	Assets     int64 `json:"assets_bytes"`
	Embeddings int64 `json:"embeddings_bytes"`
	Catalog    int64 `json:"catalog_bytes"`
}

// Total sums every area.
func (u Usage) Total() int64 {
	return u.Records + u.Assets + u.Embeddings + u.Catalog
}

// DataDirUsage measures the standard layout under dataDir plus the catalog file
// (and its WAL side files).
func DataDirUsage(dataDir, catalogPath string) (Usage, error) {
	var u Usage
	var err error
	if u.Records, err = DiskUsageBytes(filepath.Join(dataDir, "records")); err != nil {
		return u, err
	}
	if u.Assets, err = DiskUsageBytes(filepath.Join(dataDir, "assets")); err != nil {
		return u, err
	}
	if u.Embeddings, err = DiskUsageBytes(filepath.Join(dataDir, "embeddings")); err != nil {
		return u, err
	}
	if catalogPath != "" {
		u.Catalog, err = DiskUsageBytes(catalogPath, catalogPath+"-wal", catalogPath+"-shm")
	}
	return u, err
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed). Missing paths count as 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
