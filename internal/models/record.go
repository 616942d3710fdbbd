// Package models defines the core data structures for records, assets, embedding keys and search hits.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnknownName is used for any missing part of a subject's name.
const UnknownName = "Unknown"

// Record is a remotely sourced case file. Document holds the raw JSON exactly as fetched.
type Record struct {
	ID       int64           `json:"id"`
	Document json.RawMessage `json:"document"`
}

// Asset is a binary attachment (an image) belonging to a record.
type Asset struct {
	RecordID int64  `json:"record_id"`
	AssetID  int64  `json:"asset_id"`
	Data     []byte `json:"-"`
}

type subjectIdentification struct {
	Subject struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"subjectIdentification"`
}

// DisplayName returns "first last" from the document's subjectIdentification block.
// Each missing or unparsable part falls back to UnknownName.
func (r *Record) DisplayName() string {
	return DisplayName(r.Document)
}

// DisplayName extracts the subject's display name from a raw record document.
func DisplayName(doc []byte) string {
	first, last := UnknownName, UnknownName
	var s subjectIdentification
	if len(doc) > 0 && json.Unmarshal(doc, &s) == nil {
		if v := strings.TrimSpace(s.Subject.FirstName); v != "" {
			first = v
		}
		if v := strings.TrimSpace(s.Subject.LastName); v != "" {
			last = v
		}
	}
	return first + " " + last
}

// PlaceholderName is the display name used when a record cannot be found.
func PlaceholderName() string {
	return UnknownName + " " + UnknownName
}

// String implements fmt.Stringer.
func (a Asset) String() string {
	return fmt.Sprintf("%d_%d", a.RecordID, a.AssetID)
}
