package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/models"
)

const (
	recordExt = ".json"
	assetExt  = ".jpg"
)

// RecordStore keeps raw record documents under root/records/{id}.json and asset blobs
// under root/assets/{record}_{asset}.jpg.
type RecordStore struct {
	recordsDir string
	assetsDir  string
	logger     *zap.Logger
}

// NewRecordStore creates the record and asset directories under root.
func NewRecordStore(root string, opts ...Option) (*RecordStore, error) {
	o := applyOptions(opts)
	s := &RecordStore{
		recordsDir: filepath.Join(root, "records"),
		assetsDir:  filepath.Join(root, "assets"),
		logger:     o.logger,
	}
	for _, dir := range []string{s.recordsDir, s.assetsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &models.StorageError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return s, nil
}

// RecordsDir returns the directory holding record documents.
func (s *RecordStore) RecordsDir() string { return s.recordsDir }

// AssetsDir returns the directory holding asset blobs.
func (s *RecordStore) AssetsDir() string { return s.assetsDir }

func (s *RecordStore) recordPath(id int64) string {
	return filepath.Join(s.recordsDir, strconv.FormatInt(id, 10)+recordExt)
}

func (s *RecordStore) assetPath(recordID, assetID int64) string {
	return filepath.Join(s.assetsDir, fmt.Sprintf("%d_%d%s", recordID, assetID, assetExt))
}

// HasRecord reports whether a document is stored for id.
func (s *RecordStore) HasRecord(id int64) (bool, error) {
	return exists(s.recordPath(id))
}

// PutRecord stores the record's raw document, replacing any previous version.
// The document must be valid JSON.
func (s *RecordStore) PutRecord(rec *models.Record) error {
	if rec == nil || len(bytes.TrimSpace(rec.Document)) == 0 {
		return fmt.Errorf("%w: empty record document", models.ErrInvalidArgument)
	}
	if !json.Valid(rec.Document) {
		return fmt.Errorf("%w: record %d is not valid JSON", models.ErrInvalidArgument, rec.ID)
	}
	return writeFileAtomic(s.recordPath(rec.ID), rec.Document)
}

// GetRecord returns the stored record, or models.ErrNotFound.
func (s *RecordStore) GetRecord(id int64) (*models.Record, error) {
	data, err := readFile(s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return &models.Record{ID: id, Document: data}, nil
}

// RecordIDs lists stored record ids in ascending order.
func (s *RecordStore) RecordIDs() ([]int64, error) {
	stems, err := listStems(s.recordsDir, recordExt)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(stems))
	for _, st := range stems {
		if st.hasAsset {
			s.logger.Debug("skipping unexpected record file", zap.Int64("record_id", st.subject))
			continue
		}
		ids = append(ids, st.subject)
	}
	slices.Sort(ids)
	return ids, nil
}

// MaxRecordID returns the highest stored record id; ok is false when nothing is stored.
func (s *RecordStore) MaxRecordID() (id int64, ok bool, err error) {
	ids, err := s.RecordIDs()
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	return ids[len(ids)-1], true, nil
}

// HasAsset reports whether the asset blob is stored.
func (s *RecordStore) HasAsset(recordID, assetID int64) (bool, error) {
	return exists(s.assetPath(recordID, assetID))
}

// PutAsset stores the asset blob, replacing any previous version.
func (s *RecordStore) PutAsset(asset *models.Asset) error {
	if asset == nil || len(asset.Data) == 0 {
		return fmt.Errorf("%w: empty asset", models.ErrInvalidArgument)
	}
	return writeFileAtomic(s.assetPath(asset.RecordID, asset.AssetID), asset.Data)
}

// GetAsset returns the stored asset with its data, or models.ErrNotFound.
func (s *RecordStore) GetAsset(recordID, assetID int64) (*models.Asset, error) {
	data, err := readFile(s.assetPath(recordID, assetID))
	if err != nil {
		return nil, fmt.Errorf("get asset %d_%d: %w", recordID, assetID, err)
	}
	return &models.Asset{RecordID: recordID, AssetID: assetID, Data: data}, nil
}

// Assets lists stored assets, without data, ordered by record then asset id.
func (s *RecordStore) Assets() ([]models.Asset, error) {
	stems, err := listStems(s.assetsDir, assetExt)
	if err != nil {
		return nil, err
	}
	out := make([]models.Asset, 0, len(stems))
	for _, st := range stems {
		if !st.hasAsset {
			continue
		}
		out = append(out, models.Asset{RecordID: st.subject, AssetID: st.asset})
	}
	slices.SortFunc(out, func(a, b models.Asset) int {
		return models.AssetKey(models.ModalityImage, a.RecordID, a.AssetID).
			Compare(models.AssetKey(models.ModalityImage, b.RecordID, b.AssetID))
	})
	return out, nil
}
