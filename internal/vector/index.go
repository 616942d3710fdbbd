// Package vector provides the vector file codec and an exact cosine nearest-neighbour index.
package vector

import (
	"container/heap"
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/hyperjump/casefind/internal/models"
)

// Entry is one keyed vector fed to Build.
type Entry struct {
	Key    models.Key
	Vector []float32
}

// Neighbor is a query hit. Distance is the cosine distance 1 - cos(q, v), in [0, 2].
type Neighbor struct {
	Key      models.Key
	Distance float64
}

// Index is an immutable brute-force cosine index over a snapshot of vectors.
//
// Vectors are copied into one dense row-major matrix at build time, so writes to the
// store after Build are not visible until a new Index is built and swapped in.
// An Index is safe for concurrent queries.
type Index struct {
	dim     int
	keys    []models.Key
	data    []float32
	norms   []float64
	builtAt time.Time
}

// Build drains seq into a new Index. Rows keep the order seq yields them in, which is
// also the tie-break order for equal distances.
func Build(ctx context.Context, seq iter.Seq2[Entry, error]) (*Index, error) {
	b := &builder{}
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.add(e); err != nil {
			return nil, err
		}
	}
	return b.finish()
}

// BuildFromEntries builds an Index from an in-memory slice, preserving its order.
func BuildFromEntries(entries []Entry) (*Index, error) {
	b := &builder{}
	for _, e := range entries {
		if err := b.add(e); err != nil {
			return nil, err
		}
	}
	return b.finish()
}

type builder struct {
	idx Index
}

func (b *builder) add(e Entry) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", models.ErrInvalidArgument, e.Key)
	}
	if b.idx.dim == 0 {
		b.idx.dim = len(e.Vector)
	}
	if len(e.Vector) != b.idx.dim {
		return fmt.Errorf("build %s: %w", e.Key, &models.DimensionMismatchError{Expected: b.idx.dim, Actual: len(e.Vector)})
	}
	b.idx.keys = append(b.idx.keys, e.Key)
	b.idx.data = append(b.idx.data, e.Vector...)
	b.idx.norms = append(b.idx.norms, L2Norm(e.Vector))
	return nil
}

func (b *builder) finish() (*Index, error) {
	if len(b.idx.keys) == 0 {
		return nil, models.ErrEmptyCollection
	}
	b.idx.builtAt = time.Now()
	idx := b.idx
	return &idx, nil
}

// Len returns the number of vectors in the index.
func (x *Index) Len() int { return len(x.keys) }

// Dimensions returns the vector length the index was built with.
func (x *Index) Dimensions() int { return x.dim }

// BuiltAt returns when the snapshot was taken.
func (x *Index) BuiltAt() time.Time { return x.builtAt }

// Keys returns the indexed keys in load order. The slice must not be modified.
func (x *Index) Keys() []models.Key { return x.keys }

// Query returns the min(k, Len()) nearest vectors to q by cosine distance, ascending.
// Equal distances are ordered by load order.
func (x *Index) Query(q []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if len(q) != x.dim {
		return nil, &models.DimensionMismatchError{Expected: x.dim, Actual: len(q)}
	}
	qn := L2Norm(q)
	if qn == 0 {
		return nil, fmt.Errorf("%w: zero query vector", models.ErrInvalidArgument)
	}
	if math.IsNaN(qn) || math.IsInf(qn, 0) {
		return nil, fmt.Errorf("%w: query vector is not finite", models.ErrInvalidArgument)
	}
	if k > len(x.keys) {
		k = len(x.keys)
	}

	h := make(worstFirst, 0, k+1)
	for i := range x.keys {
		c := candidate{pos: i, dist: x.distance(i, q, qn)}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if c.less(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	out := make([]Neighbor, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		c := heap.Pop(&h).(candidate)
		out[i] = Neighbor{Key: x.keys[c.pos], Distance: c.dist}
	}
	return out, nil
}

func (x *Index) distance(row int, q []float32, qn float64) float64 {
	n := x.norms[row]
	if n == 0 {
		return 1
	}
	v := x.data[row*x.dim : (row+1)*x.dim]
	return clampDistance(1 - InnerProduct(q, v)/(qn*n))
}

type candidate struct {
	pos  int
	dist float64
}

// less orders by distance, then by load position.
func (c candidate) less(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.pos < o.pos
}

// worstFirst is a max-heap: the root is the candidate that would be evicted next.
type worstFirst []candidate

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return h[j].less(h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
