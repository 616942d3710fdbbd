package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/embedding"
	"github.com/hyperjump/casefind/internal/ingest"
	"github.com/hyperjump/casefind/internal/remote"
	"github.com/hyperjump/casefind/internal/search"
	"github.com/hyperjump/casefind/internal/storage"
)

// Components holds everything a command may need, built from one config.
type Components struct {
	Docs     *storage.RecordStore
	Vectors  *storage.EmbeddingStore
	Catalog  *storage.Catalog
	Remote   *remote.NamUsClient
	Image    embedding.Provider
	Text     embedding.Provider
	Engine   *search.Engine
	Pipeline *ingest.Pipeline
}

// Close releases the catalog and the embedding providers.
func (c *Components) Close() {
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Image != nil {
		_ = c.Image.Close()
	}
	if c.Text != nil {
		_ = c.Text.Close()
	}
}

type componentOptions struct {
	image bool
	text  bool
}

// initializeComponents opens the stores and catalog and builds the engine and pipeline.
// Embedding providers are only loaded when requested; a provider that fails to load is
// logged and left nil, and the operations needing it report it unavailable.
func initializeComponents(cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	storeOpts := []storage.Option{storage.WithLogger(logger)}
	docs, err := storage.NewRecordStore(cfg.Storage.DataDir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record storage: %w", err)
	}
	vectors, err := storage.NewEmbeddingStore(cfg.Storage.EmbeddingsDir(), storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding storage: %w", err)
	}
	catalog, err := storage.NewCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	c := &Components{Docs: docs, Vectors: vectors, Catalog: catalog}

	timeout := cfg.Embedding.Timeout()
	if opts.image {
		p, err := embedding.NewImageProvider(cfg.Embedding.Image)
		if err != nil {
			logger.Warn("Image model unavailable", zap.String("provider", cfg.Embedding.Image.Provider), zap.Error(err))
		} else {
			c.Image = embedding.NewGuard(p, timeout, logger)
		}
	}
	if opts.text {
		p, err := embedding.NewTextProvider(cfg.Embedding.Text)
		if err != nil {
			logger.Warn("Text model unavailable", zap.String("provider", cfg.Embedding.Text.Provider), zap.Error(err))
		} else {
			c.Text = embedding.NewGuard(p, timeout, logger)
		}
	}

	c.Remote = remote.NewNamUsClient(cfg.Remote.BaseURL, cfg.Remote.Timeout(),
		remote.WithLogger(logger),
		remote.WithRateLimit(cfg.Remote.RequestsPerSecond, cfg.Remote.Burst),
		remote.WithUserAgent(cfg.Remote.UserAgent),
	)

	c.Engine = search.NewEngine(c.Image, c.Text, vectors, docs,
		search.WithLogger(logger),
		search.WithDefaultK(cfg.Search.K),
		search.WithQueryCache(cfg.Embedding.CacheSize),
	)
	c.Pipeline = ingest.New(c.Remote, docs, vectors, cfg.Ingest,
		ingest.WithLogger(logger),
		ingest.WithLedger(catalog),
		ingest.WithTextProvider(c.Text),
		ingest.WithImageProvider(c.Image),
	)
	return c, nil
}
