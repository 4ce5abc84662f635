package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractrag/types"
)

func newWordChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(WordTokenizer{}, ChunkerConfig{ChunkSize: size, Overlap: overlap})
	require.NoError(t, err)
	return c
}

func TestNewChunker_RejectsBadConfig(t *testing.T) {
	_, err := NewChunker(WordTokenizer{}, ChunkerConfig{ChunkSize: 0})
	assert.Error(t, err)
	_, err = NewChunker(WordTokenizer{}, ChunkerConfig{ChunkSize: 10, Overlap: 10})
	assert.Error(t, err)
	_, err = NewChunker(WordTokenizer{}, ChunkerConfig{ChunkSize: 10, Overlap: -1})
	assert.Error(t, err)
	_, err = NewChunker(nil, ChunkerConfig{ChunkSize: 10})
	assert.Error(t, err)
}

func TestChunks_ShortInputIsOneChunk(t *testing.T) {
	c := newWordChunker(t, 800, 100)
	for _, n := range []int{1, 5, 799, 800} {
		chunks := c.Collect(words(n), types.ChunkMetadata{Filename: "nda.txt"})
		require.Len(t, chunks, 1, "n=%d", n)
		assert.Equal(t, n, chunks[0].TokenCount)
		assert.Equal(t, 0, chunks[0].Metadata.Position)
		assert.Equal(t, "nda.txt", chunks[0].Metadata.Filename)
	}
}

func TestChunks_EmptyInput(t *testing.T) {
	c := newWordChunker(t, 10, 2)
	assert.Empty(t, c.Collect("", types.ChunkMetadata{}))
	assert.Empty(t, c.Collect("  \n\t ", types.ChunkMetadata{}))
}

func TestChunks_AdjacentChunksOverlap(t *testing.T) {
	c := newWordChunker(t, 4, 1)
	chunks := c.Collect(words(11), types.ChunkMetadata{})

	require.Len(t, chunks, 4)
	assert.Equal(t, "w0 w1 w2 w3", chunks[0].Text)
	assert.Equal(t, "w3 w4 w5 w6", chunks[1].Text)
	assert.Equal(t, "w6 w7 w8 w9", chunks[2].Text)
	assert.Equal(t, "w9 w10", chunks[3].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Metadata.Position)
	}
}

func TestChunks_RoundTrip(t *testing.T) {
	tests := []struct {
		n, size, overlap int
	}{
		{1, 4, 1},
		{10, 4, 1},
		{11, 4, 1},
		{100, 7, 3},
		{100, 10, 0},
		{1000, 800, 100},
		{2401, 800, 100},
	}
	for _, tt := range tests {
		c := newWordChunker(t, tt.size, tt.overlap)
		text := words(tt.n)
		chunks := c.Collect(text, types.ChunkMetadata{DocID: "d"})

		got := JoinChunks(WordTokenizer{}, Dedupe(WordTokenizer{}, chunks, tt.overlap))
		assert.Equal(t, text, got, "n=%d size=%d overlap=%d", tt.n, tt.size, tt.overlap)
	}
}

func TestChunks_LazyAndRestartable(t *testing.T) {
	c := newWordChunker(t, 3, 1)
	seq := c.Chunks(words(9), types.ChunkMetadata{})

	var first []string
	for ch := range seq {
		first = append(first, ch.SourceHash)
		if len(first) == 2 {
			break
		}
	}
	var all []string
	for ch := range seq {
		all = append(all, ch.SourceHash)
	}
	require.Len(t, first, 2)
	assert.Equal(t, first, all[:2])
	assert.Len(t, all, 4)
}

func TestChunks_HashesAreIdempotent(t *testing.T) {
	c := newWordChunker(t, 50, 10)
	text := strings.Repeat("The receiving party shall hold Confidential Information in strict confidence. ", 40)

	hashes := func() []string {
		var out []string
		for ch := range c.Chunks(text, types.ChunkMetadata{}) {
			out = append(out, ch.SourceHash)
		}
		return out
	}
	assert.Equal(t, hashes(), hashes())
}

func TestDedupe_KeepsNonConsecutiveChunks(t *testing.T) {
	chunks := []types.Chunk{
		{Text: "a b c", Metadata: types.ChunkMetadata{DocID: "x", Position: 0}},
		{Text: "c d e", Metadata: types.ChunkMetadata{DocID: "x", Position: 1}},
		{Text: "k l m", Metadata: types.ChunkMetadata{DocID: "x", Position: 5}},
		{Text: "m n o", Metadata: types.ChunkMetadata{DocID: "y", Position: 6}},
	}
	out := Dedupe(WordTokenizer{}, chunks, 1)
	require.Len(t, out, 4)
	assert.Equal(t, "d e", out[1].Text)
	assert.Equal(t, "k l m", out[2].Text)
	assert.Equal(t, "m n o", out[3].Text)
}

func TestSourceHash_NormalizesWhitespaceOnly(t *testing.T) {
	assert.Equal(t, SourceHash("Limitation of  liability\n"), SourceHash(" Limitation of liability"))
	assert.NotEqual(t, SourceHash("Limitation of liability"), SourceHash("limitation of liability"))
	assert.Len(t, SourceHash("x"), 64)
}
