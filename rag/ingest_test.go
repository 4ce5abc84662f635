package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractrag/types"
)

func newTestIngestor(t *testing.T, idx VectorIndex, emb Embedder) *Ingestor {
	t.Helper()
	c := newWordChunker(t, 20, 5)
	return NewIngestor(c, NewDeduplicator(idx), emb, idx, nil)
}

func TestIngest_SecondPassIsSkipped(t *testing.T) {
	idx := NewMemoryIndex(testDim)
	emb := &bagEmbedder{}
	in := newTestIngestor(t, idx, emb)
	meta := types.ChunkMetadata{DocID: "doc-1", Filename: "nda.pdf", SourceAuthority: types.AuthorityUserUpload}

	first, err := in.Ingest(context.Background(), words(100), meta)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksTotal, first.ChunksCreated)
	assert.Zero(t, first.ChunksSkipped)

	calls := emb.calls.Load()
	second, err := in.Ingest(context.Background(), words(100), meta)
	require.NoError(t, err)
	assert.Zero(t, second.ChunksCreated)
	assert.Equal(t, first.ChunksTotal, second.ChunksSkipped)
	assert.Equal(t, calls, emb.calls.Load(), "no embedding for skipped chunks")

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(first.ChunksCreated), stats.Vectors)
}

func TestIngest_RepeatedTextWithinDocument(t *testing.T) {
	idx := NewMemoryIndex(testDim)
	in := NewIngestor(newWordChunker(t, 4, 0), NewDeduplicator(idx), &bagEmbedder{}, idx, nil)

	text := strings.Repeat("same four word block ", 3)
	report, err := in.Ingest(context.Background(), text, types.ChunkMetadata{DocID: "d"})
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunksTotal)
	assert.Equal(t, 1, report.ChunksCreated)
	assert.Equal(t, 2, report.ChunksSkipped)
}

func TestDeduplicator_FailsClosed(t *testing.T) {
	d := NewDeduplicator(brokenIndex{})
	ok, err := d.ShouldIngest(context.Background(), types.Chunk{Text: "clause"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)

	in := NewIngestor(newWordChunker(t, 4, 0), d, &bagEmbedder{}, brokenIndex{}, nil)
	report, err := in.Ingest(context.Background(), "one two three", types.ChunkMetadata{})
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)
	assert.Zero(t, report.ChunksCreated)
}

func TestMemoryIndex_RejectsWrongDimension(t *testing.T) {
	idx := NewMemoryIndex(4)
	err := idx.Upsert(context.Background(), types.VectorRecord{ID: "x", Embedding: []float32{1, 2}})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}
