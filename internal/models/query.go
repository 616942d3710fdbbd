package models

import (
	"fmt"
	"strings"
)

const (
	// DefaultK is the number of neighbours returned when a query does not ask for a count.
	DefaultK = 10
	// MaxK caps the number of neighbours a single query may request.
	MaxK = 100
)

// SearchQuery is a text query as received by the HTTP and CLI surfaces.
type SearchQuery struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate rejects empty queries and negative counts, and normalizes K into [1, MaxK].
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidArgument)
	}
	if q.K < 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, q.K)
	}
	if q.K == 0 {
		q.K = DefaultK
	}
	if q.K > MaxK {
		q.K = MaxK
	}
	return nil
}
