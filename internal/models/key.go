package models

import (
	"cmp"
	"fmt"
)

// Modality tags which embedding space a vector lives in.
type Modality string

const (
	// ModalityText is the text model's space (record documents).
	ModalityText Modality = "text"
	// ModalityImage is the joint image/text space (record assets).
	ModalityImage Modality = "image"
)

// Modalities lists every supported modality in a stable order.
var Modalities = []Modality{ModalityText, ModalityImage}

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityImage
}

// ParseModality converts s to a Modality.
func ParseModality(s string) (Modality, error) {
	m := Modality(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown modality %q", ErrInvalidArgument, s)
	}
	return m, nil
}

// Key identifies one stored embedding: a record, optionally one of its assets, in one modality.
type Key struct {
	SubjectID int64    `json:"subject_id"`
	AssetID   int64    `json:"asset_id,omitempty"`
	HasAsset  bool     `json:"has_asset"`
	Modality  Modality `json:"modality"`
}

// RecordKey returns the key for a record-level embedding.
func RecordKey(m Modality, recordID int64) Key {
	return Key{SubjectID: recordID, Modality: m}
}

// AssetKey returns the key for an asset-level embedding.
func AssetKey(m Modality, recordID, assetID int64) Key {
	return Key{SubjectID: recordID, AssetID: assetID, HasAsset: true, Modality: m}
}

// Name is the key's file stem: "{subject}" or "{subject}_{asset}".
func (k Key) Name() string {
	if k.HasAsset {
		return fmt.Sprintf("%d_%d", k.SubjectID, k.AssetID)
	}
	return fmt.Sprintf("%d", k.SubjectID)
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k.Modality) + "/" + k.Name()
}

// Compare orders keys by subject, then record-level before asset-level, then asset id.
// Modality is compared last so keys from one collection are totally ordered.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.SubjectID, o.SubjectID); c != 0 {
		return c
	}
	if k.HasAsset != o.HasAsset {
		if !k.HasAsset {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(k.AssetID, o.AssetID); c != 0 {
		return c
	}
	return cmp.Compare(k.Modality, o.Modality)
}
