// Package ingest acquires remote records and assets and derives their embeddings in
// incremental, idempotent passes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/embedding"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/observability"
	"github.com/hyperjump/casefind/internal/remote"
	"github.com/hyperjump/casefind/internal/storage"
	"github.com/hyperjump/casefind/internal/workpool"
)

// Stage names, used in reports, metrics and the run ledger.
const (
	StageRecords      = "records"
	StageAssets       = "assets"
	StageEmbedRecords = "embed_records"
	StageEmbedAssets  = "embed_assets"
)

// Stages lists every stage in execution order.
var Stages = []string{StageRecords, StageAssets, StageEmbedRecords, StageEmbedAssets}

// RunLedger records record summaries and stage runs. *storage.Catalog implements it.
type RunLedger interface {
	UpsertRecord(ctx context.Context, rec storage.RecordSummary) error
	StartRun(ctx context.Context, stage string) (string, error)
	FinishRun(ctx context.Context, run storage.RunSummary) error
}

// Pipeline runs the ingestion stages. The zero value is not usable; use New.
type Pipeline struct {
	source  remote.Source
	docs    storage.DocumentStore
	vectors storage.VectorStore
	text    embedding.Provider
	image   embedding.Provider
	ledger  RunLedger
	pool    *workpool.Pool
	cfg     config.IngestConfig
	logger  *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithLedger records record summaries and stage runs in l.
func WithLedger(l RunLedger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithPool replaces the pool built from the configured worker count.
func WithPool(pool *workpool.Pool) Option {
	return func(p *Pipeline) {
		p.pool = pool
	}
}

// WithTextProvider sets the provider used by EmbedRecords.
func WithTextProvider(provider embedding.Provider) Option {
	return func(p *Pipeline) {
		p.text = provider
	}
}

// WithImageProvider sets the provider used by EmbedAssets.
func WithImageProvider(provider embedding.Provider) Option {
	return func(p *Pipeline) {
		p.image = provider
	}
}

// New creates a pipeline. Stages needing a component that was not supplied fail with
// an error when run.
func New(source remote.Source, docs storage.DocumentStore, vectors storage.VectorStore, cfg config.IngestConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  source,
		docs:    docs,
		vectors: vectors,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.pool == nil {
		p.pool = workpool.New(cfg.Workers, workpool.WithLogger(p.logger))
	}
	return p
}

// WindowIDs returns the ids probed by one catalog walk: window consecutive ids starting
// lookback below the highest stored id, or at the configured start id when nothing is stored.
func (p *Pipeline) WindowIDs() ([]int64, error) {
	ids, err := p.docs.RecordIDs()
	if err != nil {
		return nil, err
	}
	start := p.cfg.StartID
	if start < 1 {
		start = 1
	}
	if n := len(ids); n > 0 {
		start = max(ids[n-1]-int64(p.cfg.Lookback), 1)
	}
	window := p.cfg.Window
	if window <= 0 {
		window = 1000
	}
	out := make([]int64, window)
	for i := range out {
		out[i] = start + int64(i)
	}
	return out, nil
}

// Run executes the given stages in order, or all stages when none are named. A canceled
// context stops the run after the current stage; the reports gathered so far are returned.
func (p *Pipeline) Run(ctx context.Context, stages ...string) ([]*Report, error) {
	if len(stages) == 0 {
		stages = Stages
	}
	var reports []*Report
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		var (
			rep *Report
			err error
		)
		switch stage {
		case StageRecords:
			rep, err = p.SyncRecords(ctx)
		case StageAssets:
			rep, err = p.SyncAssets(ctx)
		case StageEmbedRecords:
			rep, err = p.EmbedRecords(ctx)
		case StageEmbedAssets:
			rep, err = p.EmbedAssets(ctx)
		default:
			return reports, fmt.Errorf("%w: unknown stage %q", models.ErrInvalidArgument, stage)
		}
		if err != nil {
			return reports, fmt.Errorf("stage %s: %w", stage, err)
		}
		reports = append(reports, rep)
		p.logger.Info("Stage finished",
			zap.String("stage", stage),
			zap.Int("units", rep.Units),
			zap.Int("new", rep.Succeeded()),
			zap.Int("skipped", rep.Skipped()),
			zap.Int("failed", rep.Failed()),
			zap.Duration("duration", rep.Duration))
	}
	return reports, nil
}

// SyncRecords walks the catalog window and fetches records not yet stored.
func (p *Pipeline) SyncRecords(ctx context.Context) (*Report, error) {
	ids, err := p.WindowIDs()
	if err != nil {
		return nil, err
	}
	return p.FetchRecords(ctx, ids)
}

// FetchRecords fetches and stores each listed record that is not stored yet.
func (p *Pipeline) FetchRecords(ctx context.Context, ids []int64) (*Report, error) {
	if p.source == nil {
		return nil, errors.New("no remote source configured")
	}
	return runStage(ctx, p, StageRecords, ids, func(id int64) string {
		return fmt.Sprintf("record %d", id)
	}, Fetching, p.fetchRecord)
}

func (p *Pipeline) fetchRecord(ctx context.Context, u *unit, id int64) error {
	ok, err := p.docs.HasRecord(id)
	if err != nil {
		return u.fail(err)
	}
	if ok {
		u.advance(Skipped)
		return nil
	}
	u.start()
	body, err := p.source.FetchRecord(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		u.advance(Missing)
		return nil
	}
	if err != nil {
		return u.fail(err)
	}
	rec := &models.Record{ID: id, Document: body}
	if err := p.docs.PutRecord(rec); err != nil {
		return u.fail(err)
	}
	u.advance(Fetched)

	if p.ledger != nil {
		refs, err := p.source.ListAssetRefs(body)
		if err != nil {
			p.logger.Warn("Unreadable asset references", zap.Int64("record_id", id), zap.Error(err))
		}
		summary := storage.RecordSummary{
			ID:          id,
			DisplayName: rec.DisplayName(),
			AssetCount:  len(refs),
			FetchedAt:   time.Now().UTC(),
		}
		if err := p.ledger.UpsertRecord(ctx, summary); err != nil {
			p.logger.Warn("Failed to update catalog", zap.Int64("record_id", id), zap.Error(err))
		}
	}
	return nil
}

// SyncAssets fetches the assets referenced by stored records that are not stored yet.
func (p *Pipeline) SyncAssets(ctx context.Context) (*Report, error) {
	if p.source == nil {
		return nil, errors.New("no remote source configured")
	}
	refs, err := p.assetRefs()
	if err != nil {
		return nil, err
	}
	return runStage(ctx, p, StageAssets, refs, func(a models.Asset) string {
		return "asset " + a.String()
	}, Fetching, p.fetchAsset)
}

// assetRefs lists every asset referenced by a stored record, deduplicated per record.
func (p *Pipeline) assetRefs() ([]models.Asset, error) {
	ids, err := p.docs.RecordIDs()
	if err != nil {
		return nil, err
	}
	var refs []models.Asset
	for _, id := range ids {
		rec, err := p.docs.GetRecord(id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		assetIDs, err := p.source.ListAssetRefs(rec.Document)
		if err != nil {
			p.logger.Warn("Unreadable asset references", zap.Int64("record_id", id), zap.Error(err))
			continue
		}
		for _, a := range assetIDs {
			refs = append(refs, models.Asset{RecordID: id, AssetID: a})
		}
	}
	return refs, nil
}

func (p *Pipeline) fetchAsset(ctx context.Context, u *unit, ref models.Asset) error {
	ok, err := p.docs.HasAsset(ref.RecordID, ref.AssetID)
	if err != nil {
		return u.fail(err)
	}
	if ok {
		u.advance(Skipped)
		return nil
	}
	u.start()
	data, err := p.source.FetchAsset(ctx, ref.RecordID, ref.AssetID)
	if errors.Is(err, models.ErrNotFound) {
		u.advance(Missing)
		return nil
	}
	if err != nil {
		return u.fail(err)
	}
	if err := p.docs.PutAsset(&models.Asset{RecordID: ref.RecordID, AssetID: ref.AssetID, Data: data}); err != nil {
		return u.fail(err)
	}
	u.advance(Fetched)
	return nil
}

// EmbedRecords embeds the document of every stored record lacking a text embedding.
func (p *Pipeline) EmbedRecords(ctx context.Context) (*Report, error) {
	if p.text == nil {
		return nil, errors.New("no text embedding provider configured")
	}
	ids, err := p.docs.RecordIDs()
	if err != nil {
		return nil, err
	}
	return runStage(ctx, p, StageEmbedRecords, ids, func(id int64) string {
		return models.RecordKey(models.ModalityText, id).String()
	}, Embedding, p.embedRecord)
}

func (p *Pipeline) embedRecord(ctx context.Context, u *unit, id int64) error {
	key := models.RecordKey(models.ModalityText, id)
	ok, err := p.vectors.Has(key)
	if err != nil {
		return u.fail(err)
	}
	if ok {
		u.advance(Skipped)
		return nil
	}
	u.start()
	rec, err := p.docs.GetRecord(id)
	if err != nil {
		return u.fail(err)
	}
	vec, err := p.text.EmbedText(ctx, string(rec.Document))
	if err != nil {
		return u.fail(err)
	}
	if err := p.vectors.Put(key, vec); err != nil {
		return u.fail(err)
	}
	u.advance(Embedded)
	return nil
}

// EmbedAssets embeds every stored asset lacking an image embedding.
func (p *Pipeline) EmbedAssets(ctx context.Context) (*Report, error) {
	if p.image == nil {
		return nil, errors.New("no image embedding provider configured")
	}
	assets, err := p.docs.Assets()
	if err != nil {
		return nil, err
	}
	return runStage(ctx, p, StageEmbedAssets, assets, func(a models.Asset) string {
		return models.AssetKey(models.ModalityImage, a.RecordID, a.AssetID).String()
	}, Embedding, p.embedAsset)
}

func (p *Pipeline) embedAsset(ctx context.Context, u *unit, ref models.Asset) error {
	key := models.AssetKey(models.ModalityImage, ref.RecordID, ref.AssetID)
	ok, err := p.vectors.Has(key)
	if err != nil {
		return u.fail(err)
	}
	if ok {
		u.advance(Skipped)
		return nil
	}
	u.start()
	asset, err := p.docs.GetAsset(ref.RecordID, ref.AssetID)
	if err != nil {
		return u.fail(err)
	}
	vec, err := p.image.EmbedImage(ctx, asset.Data)
	if err != nil {
		return u.fail(err)
	}
	if err := p.vectors.Put(key, vec); err != nil {
		return u.fail(err)
	}
	u.advance(Embedded)
	return nil
}

// runStage processes items on the pool, one unit per item, and assembles the report.
// Items never started because ctx was canceled are reported as Canceled.
func runStage[T any](
	ctx context.Context,
	p *Pipeline,
	stage string,
	items []T,
	name func(T) string,
	phase State,
	fn func(ctx context.Context, u *unit, item T) error,
) (*Report, error) {
	ctx, span := observability.StartStageSpan(ctx, stage, len(items))
	defer span.End()

	rep := newReport(stage, len(items))
	if p.ledger != nil {
		runID, err := p.ledger.StartRun(context.WithoutCancel(ctx), stage)
		if err != nil {
			p.logger.Warn("Failed to record run start", zap.String("stage", stage), zap.Error(err))
		}
		rep.RunID = runID
	}

	units := make([]*unit, len(items))
	for i, item := range items {
		units[i] = newUnit(name(item), phase)
	}
	indexes := make([]int, len(items))
	for i := range indexes {
		indexes[i] = i
	}

	res := workpool.Each(ctx, p.pool, indexes, func(ctx context.Context, i int) error {
		u := units[i]
		err := fn(ctx, u, items[i])
		if err != nil {
			p.logger.Warn("Unit failed",
				zap.String("stage", stage),
				zap.String("unit", u.name),
				zap.Stringer("state", u.state),
				zap.Error(err))
		}
		return err
	})

	for _, u := range units {
		if u.state == Pending {
			u.advance(Canceled)
		}
		rep.add(u)
		observability.IngestUnitsTotal.WithLabelValues(stage, u.state.String()).Inc()
	}
	rep.Canceled = res.Canceled
	rep.Duration = time.Since(rep.StartedAt)
	observability.IngestStageDuration.WithLabelValues(stage).Observe(rep.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("ingest.succeeded", rep.Succeeded()),
		attribute.Int("ingest.skipped", rep.Skipped()),
		attribute.Int("ingest.failed", rep.Failed()),
		attribute.Bool("ingest.canceled", rep.Canceled),
	)

	if p.ledger != nil && rep.RunID != "" {
		run := storage.RunSummary{
			ID:         rep.RunID,
			Stage:      stage,
			StartedAt:  rep.StartedAt,
			FinishedAt: time.Now(),
			Succeeded:  rep.Succeeded(),
			Skipped:    rep.Skipped(),
			Failed:     rep.Failed(),
			Canceled:   rep.Canceled,
		}
		if err := p.ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			p.logger.Warn("Failed to record run result", zap.String("stage", stage), zap.Error(err))
		}
	}
	return rep, nil
}
