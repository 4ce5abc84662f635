package rag

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"contractrag/types"
)

// MemoryIndex is a brute-force in-process VectorIndex. Records are scanned in
// insertion order, which is the tie order for equal scores.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	records []types.VectorRecord
	byID    map[string]int
}

func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{
		dim:  dim,
		byID: make(map[string]int),
	}
}

func (m *MemoryIndex) Dimension() int {
	return m.dim
}

func (m *MemoryIndex) Upsert(_ context.Context, rec types.VectorRecord) error {
	if len(rec.Embedding) != m.dim {
		return fmt.Errorf("%w: got %d, index is %d", types.ErrDimensionMismatch, len(rec.Embedding), m.dim)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Embedding = slices.Clone(rec.Embedding)
	if i, ok := m.byID[rec.ID]; ok {
		m.records[i] = rec
		return nil
	}
	m.byID[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryIndex) Exists(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[hash]
	return ok, nil
}

func (m *MemoryIndex) Query(_ context.Context, vec []float32, topK int, filters types.Filters) ([]types.ScoredChunk, error) {
	if len(vec) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index is %d", types.ErrDimensionMismatch, len(vec), m.dim)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.ScoredChunk
	for _, rec := range m.records {
		if !filters.Match(rec.Metadata) {
			continue
		}
		out = append(out, types.ScoredChunk{
			Chunk: rec.Chunk(),
			Score: CosineSimilarity(vec, rec.Embedding),
		})
	}
	slices.SortStableFunc(out, func(a, b types.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemoryIndex) Stats(_ context.Context) (types.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make(map[string]struct{})
	for _, rec := range m.records {
		docs[rec.Metadata.DocID] = struct{}{}
	}
	return types.IndexStats{
		Backend:   "memory",
		Vectors:   int64(len(m.records)),
		Documents: int64(len(docs)),
		Dimension: m.dim,
	}, nil
}

// CosineSimilarity returns 0 for zero-length or zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
