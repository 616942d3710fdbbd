package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperjump/casefind/internal/models"
)

// tempPrefix marks in-flight writes; listings ignore these files.
const tempPrefix = ".tmp-"

// writeFileAtomic writes data to path so that readers observe either the old contents or
// the complete new contents, never a partial file.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &models.StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return &models.StorageError{Op: "create", Path: tmp, Err: err}
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return &models.StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err = f.Sync(); err != nil {
		return &models.StorageError{Op: "sync", Path: tmp, Err: err}
	}
	if err = f.Close(); err != nil {
		return &models.StorageError{Op: "close", Path: tmp, Err: err}
	}
	if err = os.Rename(tmp, path); err != nil {
		return &models.StorageError{Op: "rename", Path: path, Err: err}
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return &models.StorageError{Op: "open dir", Path: dir, Err: err}
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return &models.StorageError{Op: "sync dir", Path: dir, Err: err}
	}
	return nil
}

// exists stats path. Only a missing file yields (false, nil).
func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &models.StorageError{Op: "stat", Path: path, Err: err}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), models.ErrNotFound)
		}
		return nil, &models.StorageError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// stemID is a parsed file stem: "{subject}" or "{subject}_{asset}".
type stemID struct {
	subject  int64
	asset    int64
	hasAsset bool
}

// listStems returns the parsed stems of files in dir carrying ext, skipping temp files
// and names that do not parse. A missing dir lists as empty.
func listStems(dir, ext string) ([]stemID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.StorageError{Op: "list", Path: dir, Err: err}
	}
	out := make([]stemID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		if id, ok := parseStem(strings.TrimSuffix(name, ext)); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func parseStem(stem string) (stemID, bool) {
	var id stemID
	subject, asset, found := strings.Cut(stem, "_")
	n, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return id, false
	}
	id.subject = n
	if found {
		if id.asset, err = strconv.ParseInt(asset, 10, 64); err != nil {
			return id, false
		}
		id.hasAsset = true
	}
	return id, true
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
