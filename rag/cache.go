package rag

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is a bounded LRU of embeddings keyed by the source hash of
// the embedded text.
type EmbeddingCache struct {
	lru *lru.Cache[string, []float32]
}

func NewEmbeddingCache(size int) (*EmbeddingCache, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &EmbeddingCache{lru: c}, nil
}

// Get returns a copy of the cached vector; callers may modify it.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	vec, ok := c.lru.Get(SourceHash(text))
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

// Add stores a copy of vec.
func (c *EmbeddingCache) Add(text string, vec []float32) {
	c.lru.Add(SourceHash(text), slices.Clone(vec))
}

func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}

type cachedEmbedder struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps inner so that repeated texts skip the embedding call.
// A nil cache returns inner unchanged.
func NewCachedEmbedder(inner Embedder, cache *EmbeddingCache) Embedder {
	if cache == nil {
		return inner
	}
	return &cachedEmbedder{inner: inner, cache: cache}
}

func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}
