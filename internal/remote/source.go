// Package remote fetches case records and their images from the remote catalog.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hyperjump/casefind/internal/models"
)

// Source is the remote catalog as seen by ingestion.
//
// FetchRecord and FetchAsset return models.ErrNotFound for ids the catalog does not
// have, and an error matching models.ErrTransient for failures worth retrying later.
type Source interface {
	FetchRecord(ctx context.Context, id int64) ([]byte, error)
	FetchAsset(ctx context.Context, recordID, assetID int64) ([]byte, error)
	// ListAssetRefs extracts the asset ids a record document refers to.
	ListAssetRefs(document []byte) ([]int64, error)
}

type caseImages struct {
	Images []struct {
		HrefDownload string `json:"hrefDownload"`
	} `json:"images"`
}

// ParseAssetRefs reads images[].hrefDownload from a case document and returns the
// second-to-last path segment of each link, the image id. Duplicate ids are dropped;
// order follows the document. A document without images yields no refs.
//
// A link without a numeric id does not hide its siblings: it is returned in skipped
// and the valid ids are still returned. err is set only for an unparseable document.
func ParseAssetRefs(document []byte) (refs []int64, skipped []string, err error) {
	var doc caseImages
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: parse case document: %v", models.ErrInvalidArgument, err)
	}
	seen := make(map[int64]bool, len(doc.Images))
	refs = make([]int64, 0, len(doc.Images))
	for _, img := range doc.Images {
		id, ok := assetIDFromHref(img.HrefDownload)
		if !ok {
			skipped = append(skipped, img.HrefDownload)
			continue
		}
		if !seen[id] {
			seen[id] = true
			refs = append(refs, id)
		}
	}
	return refs, skipped, nil
}

func assetIDFromHref(href string) (int64, bool) {
	if href == "" {
		return 0, false
	}
	// ".../Cases/{case}/Images/{image}/Download"
	dir := path.Dir(strings.TrimRight(href, "/"))
	id, err := strconv.ParseInt(path.Base(dir), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
