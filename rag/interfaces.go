// Package rag holds the retrieval-augmented-generation pipeline: chunking,
// deduplication, ingestion and retrieval against a vector index.
package rag

import (
	"context"

	"contractrag/types"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk vectors and answers nearest-neighbour queries by
// cosine similarity. Query results must come back in descending score order,
// with ties in a stable order for the same query vector.
type VectorIndex interface {
	Upsert(ctx context.Context, rec types.VectorRecord) error
	Query(ctx context.Context, vec []float32, topK int, filters types.Filters) ([]types.ScoredChunk, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Dimension() int
	Stats(ctx context.Context) (types.IndexStats, error)
}
