package models

import "encoding/json"

// ImageHit is one result of a text-to-image search.
type ImageHit struct {
	RecordID int64   `json:"record_id"`
	AssetID  int64   `json:"asset_id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
	// Missing is set when the hit's record could not be loaded.
	Missing bool `json:"missing,omitempty"`
}

// RecordHit is one result of a search that returns full record documents.
type RecordHit struct {
	RecordID int64           `json:"record_id"`
	AssetID  int64           `json:"asset_id,omitempty"`
	HasAsset bool            `json:"-"`
	Name     string          `json:"name"`
	Document json.RawMessage `json:"document,omitempty"`
	Distance float64         `json:"distance"`
	Missing  bool            `json:"missing,omitempty"`
}

// SearchResponse wraps hits for the HTTP and CLI surfaces.
type SearchResponse[T any] struct {
	Query     string `json:"query,omitempty"`
	Results   []T    `json:"results"`
	Total     int    `json:"total"`
	QueryTime int64  `json:"query_time_ms"`
}
