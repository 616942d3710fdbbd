package embedding

import (
	"context"

	"github.com/hyperjump/casefind/internal/observability"
)

// CachedProvider memoizes text embeddings. Image inputs pass through uncached.
// Returned vectors are copies, so callers may modify them.
type CachedProvider struct {
	Provider
	cache *queryCache
}

// NewCachedProvider wraps p with a text-embedding cache holding size queries.
func NewCachedProvider(p Provider, size int) *CachedProvider {
	return &CachedProvider{Provider: p, cache: newQueryCache(size)}
}

// EmbedText returns the cached vector for text, embedding it on a miss.
func (c *CachedProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		observability.QueryCacheLookupsTotal.WithLabelValues(c.Name(), "hit").Inc()
		return v, nil
	}
	observability.QueryCacheLookupsTotal.WithLabelValues(c.Name(), "miss").Inc()
	v, err := c.Provider.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Put(text, v)
	return v, nil
}
