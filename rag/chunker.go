package rag

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"contractrag/types"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

type ChunkerConfig struct {
	ChunkSize int
	Overlap   int
}

// Chunker cuts text into token windows of ChunkSize, each sharing Overlap
// tokens with the previous one.
type Chunker struct {
	tok Tokenizer
	cfg ChunkerConfig
}

func NewChunker(tok Tokenizer, cfg ChunkerConfig) (*Chunker, error) {
	if tok == nil {
		return nil, errors.New("chunker: tokenizer is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", cfg.ChunkSize, cfg.Overlap)
	}
	return &Chunker{tok: tok, cfg: cfg}, nil
}

func (c *Chunker) Config() ChunkerConfig {
	return c.cfg
}

func (c *Chunker) Tokenizer() Tokenizer {
	return c.tok
}

// Chunks returns a lazy sequence over the chunks of text. Nothing is
// tokenized until the sequence is ranged over, and every range starts from
// the beginning. Text with no tokens yields nothing.
func (c *Chunker) Chunks(text string, meta types.ChunkMetadata) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		tokens := c.tok.Split(text)
		stride := c.cfg.ChunkSize - c.cfg.Overlap

		for i, pos := 0, meta.Position; i < len(tokens); i, pos = i+stride, pos+1 {
			end := min(i+c.cfg.ChunkSize, len(tokens))
			window := tokens[i:end]

			content := c.tok.Join(window)
			m := meta
			m.Position = pos
			m.OverlapBytes = 0
			if i > 0 && c.cfg.Overlap > 0 {
				shared := c.tok.Join(window[:min(c.cfg.Overlap, len(window))])
				if strings.HasPrefix(content, shared) {
					m.OverlapBytes = len(shared)
				}
			}

			chunk := types.Chunk{
				Text:       content,
				TokenCount: len(window),
				SourceHash: SourceHash(content),
				Metadata:   m,
			}
			if !yield(chunk) {
				return
			}
			if end == len(tokens) {
				return
			}
		}
	}
}

// Collect drains the sequence into a slice.
func (c *Chunker) Collect(text string, meta types.ChunkMetadata) []types.Chunk {
	var out []types.Chunk
	for ch := range c.Chunks(text, meta) {
		out = append(out, ch)
	}
	return out
}

// Dedupe strips the shared overlap from runs of consecutive chunks of the
// same document, so that joining the result reproduces the original token
// sequence. Chunks are expected in position order. The recorded
// OverlapBytes span is cut when present; re-tokenizing the chunk text is
// only the fallback for records stored without it.
func Dedupe(tok Tokenizer, chunks []types.Chunk, overlap int) []types.Chunk {
	if len(chunks) <= 1 || overlap <= 0 {
		return chunks
	}
	result := make([]types.Chunk, 0, len(chunks))

	for i, chunk := range chunks {
		if i == 0 {
			result = append(result, chunk)
			continue
		}

		prev := chunks[i-1]
		if chunk.Metadata.Position != prev.Metadata.Position+1 || chunk.Metadata.DocID != prev.Metadata.DocID {
			result = append(result, chunk)
			continue
		}

		if n := chunk.Metadata.OverlapBytes; n > 0 && n <= len(chunk.Text) {
			rest := chunk.Text[n:]
			if strings.TrimSpace(rest) == "" {
				continue
			}
			chunk.Text = rest
			chunk.TokenCount = max(chunk.TokenCount-overlap, 0)
			chunk.Metadata.OverlapBytes = 0
			result = append(result, chunk)
			continue
		}

		tokens := tok.Split(chunk.Text)
		if len(tokens) <= overlap {
			continue
		}
		chunk.Text = tok.Join(tokens[overlap:])
		chunk.TokenCount = len(tokens) - overlap
		result = append(result, chunk)
	}
	return result
}

// JoinChunks concatenates de-overlapped chunk texts with the tokenizer's
// joiner. A cut chunk may start with the separator the joiner would add,
// so each text is re-split first.
func JoinChunks(tok Tokenizer, chunks []types.Chunk) string {
	var all []string
	for _, ch := range chunks {
		all = append(all, tok.Split(ch.Text)...)
	}
	return strings.TrimSpace(tok.Join(all))
}
