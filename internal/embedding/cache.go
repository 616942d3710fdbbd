package embedding

import (
	"container/list"
	"sync"
)

// queryCache maps query text to its vector, dropping the least recently used entry
// once full. Stored vectors are never handed out; Get returns a copy.
type queryCache struct {
	mu      sync.Mutex
	size    int
	order   *list.List // front is most recent
	entries map[string]*list.Element
	hits    uint64
	misses  uint64
}

type queryEntry struct {
	query string
	vec   []float32
}

func newQueryCache(size int) *queryCache {
	return &queryCache{
		size:    max(size, 1),
		order:   list.New(),
		entries: make(map[string]*list.Element, size),
	}
}

func (c *queryCache) Get(query string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[query]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	vec := el.Value.(*queryEntry).vec
	return append([]float32(nil), vec...), true
}

func (c *queryCache) Put(query string, vec []float32) {
	stored := append([]float32(nil), vec...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[query]; ok {
		el.Value.(*queryEntry).vec = stored
		c.order.MoveToFront(el)
		return
	}
	c.entries[query] = c.order.PushFront(&queryEntry{query: query, vec: stored})
	for c.order.Len() > c.size {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*queryEntry).query)
	}
}

// Len returns the number of cached queries.
func (c *queryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the lookup counts since creation.
func (c *queryCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
