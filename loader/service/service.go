// Package service feeds authoritative legal texts from a watched folder into
// the vector index.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"contractrag/extract"
	"contractrag/loader/internal"
	"contractrag/rag"
	"contractrag/store"
	"contractrag/types"
)

type Service struct {
	logger    *slog.Logger
	ingestor  *rag.Ingestor
	documents store.DocumentStore
	loader    *internal.FolderLoader
	cfg       types.Config
}

func New(cfg types.Config, ingestor *rag.Ingestor, extractor extract.Extractor, documents store.DocumentStore, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loader, err := internal.NewFolderLoader(cfg, extractor, logger)
	if err != nil {
		return nil, fmt.Errorf("prepare loader directories: %w", err)
	}
	return &Service{
		logger:    logger,
		ingestor:  ingestor,
		documents: documents,
		loader:    loader,
		cfg:       cfg,
	}, nil
}

func (s *Service) Stop() {
	s.logger.Info("Loader Service stopped")
}

// Run watches the source folder until ctx is cancelled, then waits up to
// five seconds for in-flight files.
func (s *Service) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fileChan := make(chan string, 10)
	docChan := make(chan *internal.LoadedFile)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.loader.WatchFile(ctx, fileChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loader.ProcessFile(ctx, fileChan, docChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.DocumentSave(ctx, docChan)
	}()

	<-ctx.Done()
	s.logger.Info("shutting down loader gracefully...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all loader goroutines stopped")
	case <-time.After(5 * time.Second):
		s.logger.Warn("timeout waiting for loader goroutines to stop")
	}
	s.Stop()
}

// DocumentSave ingests every loaded file and moves it to the archive, or to
// the bad directory when loading or ingestion failed.
func (s *Service) DocumentSave(ctx context.Context, docChan <-chan *internal.LoadedFile) {
	for doc := range docChan {
		_, err := s.ingest(ctx, doc)
		if errors.Is(err, context.Canceled) {
			s.loader.Release(doc.Path, false)
			return
		}

		state := internal.StateArchived
		if err != nil {
			state = internal.StateBad
			s.logger.Error("failed to ingest file", "path", doc.Path, "error", err)
		}
		dest, err := s.loader.MoveToArchive(doc.Path, state)
		if err != nil {
			s.logger.Error("failed to move file", "path", doc.Path, "error", err)
		} else {
			s.logger.Info("file moved", "from", doc.Path, "to", dest)
		}
		s.loader.Release(doc.Path, true)
	}
}

// IngestFile loads and ingests a single file without moving it.
func (s *Service) IngestFile(ctx context.Context, path string) (types.IngestReport, error) {
	return s.ingest(ctx, s.loader.Load(ctx, path))
}

func (s *Service) ingest(ctx context.Context, doc *internal.LoadedFile) (types.IngestReport, error) {
	if doc.Err != nil {
		return types.IngestReport{}, doc.Err
	}

	filename := filepath.Base(doc.Path)
	docID := types.DocumentID(filename, rag.SourceHash(doc.Text))
	meta := types.ChunkMetadata{
		DocID:           docID.String(),
		Filename:        filename,
		ContractType:    types.OrUnspecified(s.cfg.ContractType),
		Jurisdiction:    types.OrUnspecified(s.cfg.Jurisdiction),
		UploadDate:      doc.ModTime.UTC(),
		UploadedBy:      "loader",
		SourceAuthority: s.cfg.SourceAuthority,
	}

	if s.documents != nil {
		err := s.documents.SaveDocument(ctx, types.Document{
			ID:              docID,
			Title:           doc.Title,
			Source:          string(doc.Kind),
			SourcePath:      doc.Path,
			ContractType:    meta.ContractType,
			Jurisdiction:    meta.Jurisdiction,
			SourceAuthority: meta.SourceAuthority,
			CreatedAt:       meta.UploadDate,
		})
		if err != nil {
			return types.IngestReport{}, fmt.Errorf("save document %s: %w", doc.Path, err)
		}
	}

	return s.ingestor.Ingest(ctx, doc.Text, meta)
}
