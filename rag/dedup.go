package rag

import (
	"context"
	"fmt"

	"contractrag/types"
)

// Deduplicator decides whether a chunk still needs to be stored. It never
// records anything itself; the caller upserts and the index keeps the hash.
type Deduplicator struct {
	idx VectorIndex
}

func NewDeduplicator(idx VectorIndex) *Deduplicator {
	return &Deduplicator{idx: idx}
}

// ShouldIngest reports false when a chunk with the same normalized text is
// already indexed. An unreachable index is an error, not a yes.
func (d *Deduplicator) ShouldIngest(ctx context.Context, chunk types.Chunk) (bool, error) {
	hash := SourceHash(chunk.Text)
	exists, err := d.idx.Exists(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", types.ErrIndexUnavailable, hash[:12], err)
	}
	return !exists, nil
}
