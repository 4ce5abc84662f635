package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"contractrag/types"
)

// Ingestor runs chunk, dedup, embed and upsert for one document at a time.
type Ingestor struct {
	chunker *Chunker
	dedup   *Deduplicator
	emb     Embedder
	idx     VectorIndex
	logger  *slog.Logger
}

func NewIngestor(chunker *Chunker, dedup *Deduplicator, emb Embedder, idx VectorIndex, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		chunker: chunker,
		dedup:   dedup,
		emb:     emb,
		idx:     idx,
		logger:  logger,
	}
}

// Ingest stores every chunk of text that the index does not hold yet. It stops
// at the first embedding or index failure; chunks upserted before that stay.
func (in *Ingestor) Ingest(ctx context.Context, text string, meta types.ChunkMetadata) (types.IngestReport, error) {
	report := types.IngestReport{DocID: meta.DocID, Filename: meta.Filename}
	seen := make(map[string]struct{})

	for chunk := range in.chunker.Chunks(text, meta) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.ChunksTotal++
		report.TotalTokens += chunk.TokenCount

		if _, dup := seen[chunk.SourceHash]; dup {
			report.ChunksSkipped++
			continue
		}
		seen[chunk.SourceHash] = struct{}{}

		ok, err := in.dedup.ShouldIngest(ctx, chunk)
		if err != nil {
			return report, err
		}
		if !ok {
			report.ChunksSkipped++
			continue
		}

		vec, err := in.emb.Embed(ctx, chunk.Text)
		if err != nil {
			if !errors.Is(err, types.ErrEmbeddingService) {
				err = fmt.Errorf("%w: %v", types.ErrEmbeddingService, err)
			}
			return report, fmt.Errorf("chunk %d of %s: %w", chunk.Metadata.Position, meta.Filename, err)
		}

		rec := types.VectorRecord{
			ID:         chunk.SourceHash,
			Embedding:  vec,
			Text:       chunk.Text,
			TokenCount: chunk.TokenCount,
			Metadata:   chunk.Metadata,
		}
		if err := in.idx.Upsert(ctx, rec); err != nil {
			return report, fmt.Errorf("upsert chunk %d of %s: %w", chunk.Metadata.Position, meta.Filename, err)
		}
		report.ChunksCreated++
	}

	in.logger.Info("document ingested",
		"doc_id", report.DocID,
		"filename", report.Filename,
		"chunks", report.ChunksTotal,
		"created", report.ChunksCreated,
		"skipped", report.ChunksSkipped,
		"tokens", report.TotalTokens,
	)
	return report, nil
}
