// Package storage persists records, assets and embedding vectors on the local filesystem,
// plus a SQLite catalog of record summaries and ingestion runs.
package storage

import (
	"iter"

	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/vector"
)

// VectorStore is a durable keyed collection of embedding vectors.
type VectorStore interface {
	Has(key models.Key) (bool, error)
	Put(key models.Key, vec []float32) error
	Get(key models.Key) ([]float32, error)
	// All yields every vector of a modality ordered by models.Key.Compare.
	All(m models.Modality) iter.Seq2[vector.Entry, error]
}

// DocumentStore holds raw record documents and asset blobs.
type DocumentStore interface {
	HasRecord(id int64) (bool, error)
	PutRecord(rec *models.Record) error
	GetRecord(id int64) (*models.Record, error)
	RecordIDs() ([]int64, error)

	HasAsset(recordID, assetID int64) (bool, error)
	PutAsset(asset *models.Asset) error
	GetAsset(recordID, assetID int64) (*models.Asset, error)
	// Assets lists stored assets (without data) ordered by record then asset id.
	Assets() ([]models.Asset, error)
}
