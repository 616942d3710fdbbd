package storage

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/vector"
)

const vectorExt = ".vec"

// EmbeddingStore keeps one file per embedding key under root/{modality}/.
// Writes are atomic renames, so concurrent readers never see a partial vector.
type EmbeddingStore struct {
	root   string
	logger *zap.Logger
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for skipped or unreadable files.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// NewEmbeddingStore creates the per-modality directories under root.
func NewEmbeddingStore(root string, opts ...Option) (*EmbeddingStore, error) {
	o := applyOptions(opts)
	for _, m := range models.Modalities {
		dir := filepath.Join(root, string(m))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &models.StorageError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return &EmbeddingStore{root: root, logger: o.logger}, nil
}

// Dir returns the directory holding vectors of modality m.
func (s *EmbeddingStore) Dir(m models.Modality) string {
	return filepath.Join(s.root, string(m))
}

func (s *EmbeddingStore) path(key models.Key) string {
	return filepath.Join(s.Dir(key.Modality), key.Name()+vectorExt)
}

// Has reports whether a vector is stored for key.
func (s *EmbeddingStore) Has(key models.Key) (bool, error) {
	if !key.Modality.Valid() {
		return false, fmt.Errorf("%w: modality %q", models.ErrInvalidArgument, key.Modality)
	}
	return exists(s.path(key))
}

// Put stores vec under key, replacing any previous vector.
func (s *EmbeddingStore) Put(key models.Key, vec []float32) error {
	if !key.Modality.Valid() {
		return fmt.Errorf("%w: modality %q", models.ErrInvalidArgument, key.Modality)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector for %s", models.ErrInvalidArgument, key)
	}
	return writeFileAtomic(s.path(key), vector.Encode(vec))
}

// Get returns the vector stored under key, or models.ErrNotFound.
func (s *EmbeddingStore) Get(key models.Key) ([]float32, error) {
	if !key.Modality.Valid() {
		return nil, fmt.Errorf("%w: modality %q", models.ErrInvalidArgument, key.Modality)
	}
	path := s.path(key)
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	vec, err := vector.Decode(data)
	if err != nil {
		return nil, &models.StorageError{Op: "decode", Path: path, Err: err}
	}
	return vec, nil
}

// Keys lists the stored keys of modality m in key order.
func (s *EmbeddingStore) Keys(m models.Modality) ([]models.Key, error) {
	stems, err := listStems(s.Dir(m), vectorExt)
	if err != nil {
		return nil, err
	}
	keys := make([]models.Key, len(stems))
	for i, st := range stems {
		keys[i] = models.Key{SubjectID: st.subject, AssetID: st.asset, HasAsset: st.hasAsset, Modality: m}
	}
	slices.SortFunc(keys, models.Key.Compare)
	return keys, nil
}

// Count returns the number of vectors stored for modality m.
func (s *EmbeddingStore) Count(m models.Modality) (int, error) {
	stems, err := listStems(s.Dir(m), vectorExt)
	return len(stems), err
}

// All yields every vector of modality m in key order. The key list is taken when
// iteration starts; vectors are read one at a time. Ranging again restarts from the
// beginning and sees any vectors written in between. A key removed between listing
// and reading is skipped.
func (s *EmbeddingStore) All(m models.Modality) iter.Seq2[vector.Entry, error] {
	return func(yield func(vector.Entry, error) bool) {
		keys, err := s.Keys(m)
		if err != nil {
			yield(vector.Entry{}, err)
			return
		}
		for _, k := range keys {
			vec, err := s.Get(k)
			if err != nil {
				if isNotFound(err) {
					s.logger.Debug("vector vanished during listing", zap.Stringer("key", k))
					continue
				}
				if !yield(vector.Entry{}, err) {
					return
				}
				continue
			}
			if !yield(vector.Entry{Key: k, Vector: vec}, nil) {
				return
			}
		}
	}
}
