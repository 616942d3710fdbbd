// Package search answers text and image queries against the in-memory vector indexes.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/embedding"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/observability"
	"github.com/hyperjump/casefind/internal/storage"
	"github.com/hyperjump/casefind/internal/vector"
)

// Query methods, used in metrics, spans and logs.
const (
	MethodText    = "text"
	MethodImage   = "image"
	MethodTextAlt = "text_alt"
)

var (
	errNoImageModel = fmt.Errorf("%w: no image model configured", models.ErrProviderUnavailable)
	errNoTextModel  = fmt.Errorf("%w: no text model configured", models.ErrProviderUnavailable)
)

// IndexStats describes the live index of one modality.
type IndexStats struct {
	Modality   models.Modality `json:"modality"`
	Loaded     bool            `json:"loaded"`
	Vectors    int             `json:"vectors"`
	Dimensions int             `json:"dimensions"`
	BuiltAt    time.Time       `json:"built_at,omitempty"`
}

// Engine runs the three query methods.
//
// The image index holds CLIP vectors of assets and serves both SearchByText (CLIP text
// encoder) and SearchByImage (CLIP image encoder). The text index holds vectors of
// record documents from an independent text model and serves SearchByTextAlternateModel.
// Each index is an immutable snapshot swapped atomically by Rebuild.
type Engine struct {
	clip     embedding.Provider
	text     embedding.Provider
	vectors  storage.VectorStore
	docs     storage.DocumentStore
	indexes  map[models.Modality]*atomic.Pointer[vector.Index]
	rebuild  sync.Mutex
	defaultK int
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaultK sets the result count used when a query does not specify one.
func WithDefaultK(k int) Option {
	return func(e *Engine) {
		e.defaultK = k
	}
}

// WithQueryCache memoizes text query vectors of both providers in LRUs of size entries.
func WithQueryCache(size int) Option {
	return func(e *Engine) {
		if size <= 0 {
			return
		}
		if e.clip != nil {
			e.clip = embedding.NewCachedProvider(e.clip, size)
		}
		if e.text != nil {
			e.text = embedding.NewCachedProvider(e.text, size)
		}
	}
}

// NewEngine creates an engine with no indexes loaded; call Rebuild before querying.
// clip embeds into the image space; text is the alternate text model and may be nil.
func NewEngine(clip, text embedding.Provider, vectors storage.VectorStore, docs storage.DocumentStore, opts ...Option) *Engine {
	e := &Engine{
		clip:     clip,
		text:     text,
		vectors:  vectors,
		docs:     docs,
		indexes:  make(map[models.Modality]*atomic.Pointer[vector.Index], len(models.Modalities)),
		defaultK: models.DefaultK,
		logger:   zap.NewNop(),
	}
	for _, m := range models.Modalities {
		e.indexes[m] = &atomic.Pointer[vector.Index]{}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Rebuild reloads every modality from the vector store. A modality whose build fails
// keeps serving its previous index; the failures are joined into the returned error.
func (e *Engine) Rebuild(ctx context.Context) error {
	var errs []error
	for _, m := range models.Modalities {
		if err := e.RebuildModality(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%s index: %w", m, err))
		}
	}
	return errors.Join(errs...)
}

// RebuildModality builds a fresh index for m and swaps it in on success.
func (e *Engine) RebuildModality(ctx context.Context, m models.Modality) error {
	e.rebuild.Lock()
	defer e.rebuild.Unlock()

	start := time.Now()
	idx, err := vector.Build(ctx, e.vectors.All(m))
	observability.IndexRebuildsTotal.WithLabelValues(string(m), observability.Status(err)).Inc()
	if err != nil {
		e.logger.Warn("Index rebuild failed", zap.String("modality", string(m)), zap.Error(err))
		return err
	}
	e.indexes[m].Store(idx)
	observability.IndexVectors.WithLabelValues(string(m)).Set(float64(idx.Len()))
	e.logger.Info("Index rebuilt",
		zap.String("modality", string(m)),
		zap.Int("vectors", idx.Len()),
		zap.Int("dimensions", idx.Dimensions()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Stats reports the live index of every modality.
func (e *Engine) Stats() []IndexStats {
	out := make([]IndexStats, 0, len(models.Modalities))
	for _, m := range models.Modalities {
		st := IndexStats{Modality: m}
		if idx := e.indexes[m].Load(); idx != nil {
			st.Loaded = true
			st.Vectors = idx.Len()
			st.Dimensions = idx.Dimensions()
			st.BuiltAt = idx.BuiltAt()
		}
		out = append(out, st)
	}
	return out
}

// SearchByText embeds the query with the CLIP text encoder and returns the closest
// images. k of 0 selects the engine default.
func (e *Engine) SearchByText(ctx context.Context, query string, k int) (hits []models.ImageHit, err error) {
	ctx, done := e.begin(ctx, MethodText, &err)
	defer done()

	if e.clip == nil {
		return nil, errNoImageModel
	}
	q := models.SearchQuery{Query: query, K: k}
	if err := ProcessQuery(&q, e.defaultK); err != nil {
		return nil, err
	}
	neighbors, err := e.query(ctx, models.ModalityImage, q.K, func(ctx context.Context) ([]float32, error) {
		return e.clip.EmbedText(ctx, q.Query)
	})
	if err != nil {
		return nil, err
	}

	names := make(map[int64]*models.Record)
	hits = make([]models.ImageHit, 0, len(neighbors))
	for _, n := range neighbors {
		rec := e.lookup(names, n.Key.SubjectID)
		hit := models.ImageHit{
			RecordID: n.Key.SubjectID,
			AssetID:  n.Key.AssetID,
			Distance: n.Distance,
		}
		if rec == nil {
			hit.Name = models.PlaceholderName()
			hit.Missing = true
		} else {
			hit.Name = rec.DisplayName()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// SearchByImage embeds the image with the CLIP image encoder and returns the records
// owning the closest images, with their documents.
func (e *Engine) SearchByImage(ctx context.Context, data []byte, k int) (hits []models.RecordHit, err error) {
	ctx, done := e.begin(ctx, MethodImage, &err)
	defer done()

	if e.clip == nil {
		return nil, errNoImageModel
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidArgument)
	}
	k, err = e.resolveK(k)
	if err != nil {
		return nil, err
	}
	neighbors, err := e.query(ctx, models.ModalityImage, k, func(ctx context.Context) ([]float32, error) {
		return e.clip.EmbedImage(ctx, data)
	})
	if err != nil {
		return nil, err
	}
	return e.recordHits(neighbors), nil
}

// SearchByTextAlternateModel embeds the query with the text model and returns the
// closest record documents from the text index.
func (e *Engine) SearchByTextAlternateModel(ctx context.Context, query string, k int) (hits []models.RecordHit, err error) {
	ctx, done := e.begin(ctx, MethodTextAlt, &err)
	defer done()

	if e.text == nil {
		return nil, errNoTextModel
	}
	q := models.SearchQuery{Query: query, K: k}
	if err := ProcessQuery(&q, e.defaultK); err != nil {
		return nil, err
	}
	neighbors, err := e.query(ctx, models.ModalityText, q.K, func(ctx context.Context) ([]float32, error) {
		return e.text.EmbedText(ctx, q.Query)
	})
	if err != nil {
		return nil, err
	}
	return e.recordHits(neighbors), nil
}

// begin starts the span and returns a func that records the outcome held in *errp.
func (e *Engine) begin(ctx context.Context, method string, errp *error) (context.Context, func()) {
	start := time.Now()
	ctx, span := observability.StartSearchSpan(ctx, method)
	return ctx, func() {
		err := *errp
		observability.SearchRequestsTotal.WithLabelValues(method, observability.Status(err)).Inc()
		observability.SearchLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.RecordError(span, err)
			e.logger.Debug("Search failed", zap.String("method", method), zap.Error(err))
		}
		span.End()
	}
}

func (e *Engine) resolveK(k int) (int, error) {
	if k < 0 {
		return 0, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if k == 0 {
		k = e.defaultK
	}
	if k <= 0 {
		k = models.DefaultK
	}
	return min(k, models.MaxK), nil
}

// query loads the live index of m, embeds the input and runs the k-NN query. The index
// is checked first so an empty collection never costs a provider call.
func (e *Engine) query(ctx context.Context, m models.Modality, k int, embed func(context.Context) ([]float32, error)) ([]vector.Neighbor, error) {
	idx := e.indexes[m].Load()
	if idx == nil {
		return nil, fmt.Errorf("%w: %s index not loaded", models.ErrEmptyCollection, m)
	}
	vec, err := embed(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Query(vec, k)
}

// recordHits joins neighbors to their record documents. Several assets of one record
// may be hit; each keeps its own row.
func (e *Engine) recordHits(neighbors []vector.Neighbor) []models.RecordHit {
	seen := make(map[int64]*models.Record)
	hits := make([]models.RecordHit, 0, len(neighbors))
	for _, n := range neighbors {
		hit := models.RecordHit{
			RecordID: n.Key.SubjectID,
			AssetID:  n.Key.AssetID,
			HasAsset: n.Key.HasAsset,
			Distance: n.Distance,
		}
		if rec := e.lookup(seen, n.Key.SubjectID); rec != nil {
			hit.Name = rec.DisplayName()
			hit.Document = rec.Document
		} else {
			hit.Name = models.PlaceholderName()
			hit.Missing = true
		}
		hits = append(hits, hit)
	}
	return hits
}

// lookup loads a record once per query; nil means the record is unavailable.
func (e *Engine) lookup(seen map[int64]*models.Record, id int64) *models.Record {
	if rec, ok := seen[id]; ok {
		return rec
	}
	rec, err := e.docs.GetRecord(id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("Failed to load record for hit", zap.Int64("record_id", id), zap.Error(err))
		}
		rec = nil
	}
	seen[id] = rec
	return rec
}
