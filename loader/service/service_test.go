package service

import (
	"bytes"
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractrag/extract"
	"contractrag/loader/internal"
	"contractrag/rag"
	"contractrag/types"
)

const dim = 16

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, dim)
	for _, w := range strings.Fields(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%dim]++
	}
	return vec, nil
}

func newTestService(t *testing.T) (*Service, *rag.MemoryIndex, types.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := types.Config{
		SourceDir:       filepath.Join(root, "source"),
		ArchiveDir:      filepath.Join(root, "archive"),
		BadDir:          filepath.Join(root, "bad"),
		SourceAuthority: "best_practices",
		ContractType:    "NDA",
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	idx := rag.NewMemoryIndex(dim)
	chunker, err := rag.NewChunker(rag.WordTokenizer{}, rag.ChunkerConfig{ChunkSize: 8, Overlap: 2})
	require.NoError(t, err)
	ingestor := rag.NewIngestor(chunker, rag.NewDeduplicator(idx), wordEmbedder{}, idx, logger)

	svc, err := New(cfg, ingestor, extract.NewLocal(), nil, logger)
	require.NoError(t, err)
	return svc, idx, cfg
}

const practice = `Limit aggregate liability to fees paid in the preceding twelve months.
Carve out gross negligence, wilful misconduct and breach of confidentiality.`

func TestIngestFile_TagsAuthorityAndSkipsRepeats(t *testing.T) {
	svc, idx, cfg := newTestService(t)
	path := filepath.Join(cfg.SourceDir, "liability.txt")
	require.NoError(t, os.WriteFile(path, []byte(practice), 0644))

	report, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Positive(t, report.ChunksCreated)
	assert.Equal(t, "liability.txt", report.Filename)

	hits, err := idx.Query(context.Background(), make([]float32, dim), 10, types.Filters{ContractType: "NDA"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "best_practices", hits[0].Chunk.Metadata.SourceAuthority)
	assert.Equal(t, "unspecified", hits[0].Chunk.Metadata.Jurisdiction)

	again, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, again.ChunksCreated)
	assert.Equal(t, report.ChunksTotal, again.ChunksSkipped)
}

func TestDocumentSave_RoutesFiles(t *testing.T) {
	svc, _, cfg := newTestService(t)
	good := filepath.Join(cfg.SourceDir, "liability.txt")
	require.NoError(t, os.WriteFile(good, []byte(practice), 0644))
	bad := filepath.Join(cfg.SourceDir, "empty.txt")
	require.NoError(t, os.WriteFile(bad, []byte("   "), 0644))

	ctx := context.Background()
	docChan := make(chan *internal.LoadedFile, 2)
	docChan <- svc.loader.Load(ctx, good)
	docChan <- svc.loader.Load(ctx, bad)
	close(docChan)

	svc.DocumentSave(ctx, docChan)

	assert.NoFileExists(t, good)
	assert.NoFileExists(t, bad)

	archived, err := filepath.Glob(filepath.Join(cfg.ArchiveDir, "*", "liability.txt"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	rejected, err := filepath.Glob(filepath.Join(cfg.BadDir, "*", "empty.txt"))
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}
