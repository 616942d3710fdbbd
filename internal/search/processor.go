package search

import (
	"strings"

	"github.com/hyperjump/casefind/internal/models"
)

// ProcessQuery collapses whitespace in the query text, validates it and applies the
// default result count when the query does not set one.
func ProcessQuery(query *models.SearchQuery, defaultK int) error {
	query.Query = strings.Join(strings.Fields(query.Query), " ")
	if query.K == 0 && defaultK > 0 {
		query.K = defaultK
	}
	return query.Validate()
}
