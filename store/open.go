package store

import (
	"context"
	"fmt"
	"log/slog"

	"contractrag/config"
	"contractrag/rag"
	"contractrag/types"
)

// AnalysisStore persists analyses and reads them back by id.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, rec types.AnalysisRecord) (string, error)
	GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error)
	// DeleteAnalysis returns types.ErrNotFound for an unknown id.
	DeleteAnalysis(ctx context.Context, id string) error
}

type DocumentStore interface {
	SaveDocument(ctx context.Context, doc types.Document) error
}

// Backend is the vector index selected by INDEX_BACKEND together with the
// stores that live next to it. Analyses and Documents are nil when the
// backend cannot hold them.
type Backend struct {
	Name      string
	Index     rag.VectorIndex
	Analyses  AnalysisStore
	Documents DocumentStore
	close     func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.IndexBackend {
	case config.BackendPostgres:
		pg, err := NewPostgresStore(ctx, cfg.PostgresDSN(), cfg.VectorDimension, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
		return &Backend{
			Name:      config.BackendPostgres,
			Index:     pg,
			Analyses:  pg,
			Documents: pg,
			close:     pg.Close,
		}, nil

	case config.BackendSQLite:
		lite, err := NewSQLiteStore(ctx, cfg.SQLitePath, cfg.VectorDimension)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return &Backend{
			Name:     config.BackendSQLite,
			Index:    lite,
			Analyses: lite,
			close:    lite.Close,
		}, nil

	case config.BackendMemory:
		return &Backend{
			Name:  config.BackendMemory,
			Index: rag.NewMemoryIndex(cfg.VectorDimension),
		}, nil
	}
	return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
}
