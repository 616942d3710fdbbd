package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/vector"
)

// legacyExt is the extension of vector files written by the earlier scraper: one JSON
// array of floats per file, named {id}.json or {id}_{asset}.json.
const legacyExt = ".json"

// ImportResult counts the outcome of ImportLegacy.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Invalid  int `json:"invalid"`
}

// ImportLegacy copies legacy vector files from dir into dst under modality m. Keys that
// already have a vector are left alone; unreadable files are counted and logged.
func ImportLegacy(dir string, m models.Modality, dst VectorStore, opts ...Option) (ImportResult, error) {
	var res ImportResult
	if !m.Valid() {
		return res, &models.StorageError{Op: "import", Path: dir, Err: models.ErrInvalidArgument}
	}
	o := applyOptions(opts)
	stems, err := listStems(dir, legacyExt)
	if err != nil {
		return res, err
	}
	for _, st := range stems {
		key := models.Key{SubjectID: st.subject, AssetID: st.asset, HasAsset: st.hasAsset, Modality: m}
		ok, err := dst.Has(key)
		if err != nil {
			return res, err
		}
		if ok {
			res.Skipped++
			continue
		}
		path := filepath.Join(dir, key.Name()+legacyExt)
		data, err := readFile(path)
		if err != nil {
			return res, err
		}
		vec, err := vector.Decode(data)
		if err == nil && len(vec) == 0 {
			err = fmt.Errorf("%w: empty vector", vector.ErrCorrupt)
		}
		if err != nil {
			if !errors.Is(err, vector.ErrCorrupt) {
				return res, err
			}
			res.Invalid++
			o.logger.Warn("Skipping unreadable legacy vector", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := dst.Put(key, vec); err != nil {
			return res, err
		}
		res.Imported++
	}
	o.logger.Info("Legacy import finished",
		zap.String("dir", dir),
		zap.String("modality", string(m)),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("invalid", res.Invalid))
	return res, nil
}

// String implements fmt.Stringer.
func (r ImportResult) String() string {
	return strconv.Itoa(r.Imported) + " imported, " + strconv.Itoa(r.Skipped) + " skipped, " + strconv.Itoa(r.Invalid) + " invalid"
}
