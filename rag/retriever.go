package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"contractrag/types"
)

const DefaultTopK = 5

type Retriever struct {
	emb    Embedder
	idx    VectorIndex
	topK   int
	logger *slog.Logger
}

type RetrieverOption func(*Retriever)

func WithDefaultTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

func NewRetriever(emb Embedder, idx VectorIndex, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		emb:    emb,
		idx:    idx,
		topK:   DefaultTopK,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds the query and returns at most TopK chunks ordered by
// descending similarity. A sparse index yields fewer chunks without error.
func (r *Retriever) Retrieve(ctx context.Context, q types.RetrievalQuery) ([]types.ScoredChunk, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty retrieval query", types.ErrValidation)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.topK
	}

	vec, err := r.emb.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, types.ErrEmbeddingService) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingService, err)
	}

	results, err := r.idx.Query(ctx, vec, topK, q.Filters)
	if err != nil {
		if errors.Is(err, types.ErrIndexUnavailable) || errors.Is(err, types.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}

	// Index order breaks ties, so the sort must be stable.
	slices.SortStableFunc(results, func(a, b types.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > topK {
		results = results[:topK]
	}

	r.logger.Debug("retrieved context",
		"top_k", topK,
		"found", len(results),
		"contract_type", q.Filters.ContractType,
		"jurisdiction", q.Filters.Jurisdiction,
	)
	return results, nil
}
