package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Exact is an in-memory index with exhaustive inner-product search. It is
// the reference backend for retrieval evaluation, where approximate
// recall would bias the reported metrics. Ties break toward the lower ID
// so repeated evaluations rank duplicates identically.
type Exact struct {
	mu    sync.RWMutex
	dim   int
	ids   []int64
	vecs  [][]float32
	index map[int64]int
}

// NewExact builds an empty index. The first added entry fixes the
// dimension.
func NewExact() *Exact {
	return &Exact{index: map[int64]int{}}
}

// Add stores entries, replacing embeddings for IDs already present.
func (e *Exact) Add(_ context.Context, entries []Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			return fmt.Errorf("%w: entry %d is empty", ErrDimension, entry.ID)
		}
		if e.dim == 0 {
			e.dim = len(entry.Embedding)
		}
		if len(entry.Embedding) != e.dim {
			return fmt.Errorf("%w: entry %d has %d, index has %d",
				ErrDimension, entry.ID, len(entry.Embedding), e.dim)
		}
		vec := make([]float32, e.dim)
		copy(vec, entry.Embedding)
		if at, ok := e.index[entry.ID]; ok {
			e.vecs[at] = vec
			continue
		}
		e.index[entry.ID] = len(e.ids)
		e.ids = append(e.ids, entry.ID)
		e.vecs = append(e.vecs, vec)
	}
	return nil
}

// Query scores every stored entry against the embedding and returns the
// topK by inner product.
func (e *Exact) Query(_ context.Context, embedding []float32, topK int) ([]Neighbor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.ids) == 0 || topK <= 0 {
		return nil, nil
	}
	if len(embedding) != e.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d",
			ErrDimension, len(embedding), e.dim)
	}

	hits := make([]Neighbor, len(e.ids))
	for i, vec := range e.vecs {
		var dot float32
		for j, v := range vec {
			dot += v * embedding[j]
		}
		hits[i] = Neighbor{ID: e.ids[i], Score: dot}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len reports the number of stored entries.
func (e *Exact) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

// Close is a no-op for the in-memory index.
func (e *Exact) Close() error { return nil }

var _ Index = (*Exact)(nil)
