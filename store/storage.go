// Package store persists chunks, documents and analyses.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"contractrag/types"
)

type DBStorer interface {
	SaveDocument(context.Context, types.Document) error
	GetDocumentByID(context.Context, uuid.UUID) (*types.Document, error)
	SaveAnalysis(context.Context, types.AnalysisRecord) (string, error)
	GetAnalysis(context.Context, string) (*types.AnalysisRecord, error)
	DeleteAnalysis(context.Context, string) error
}

// PostgresStore keeps chunk vectors in a pgvector column next to the
// document and analysis tables.
type PostgresStore struct {
	pool          *pgxpool.Pool
	dim           int
	iterativeScan bool
	logger        *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dim int, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		dim:    dim,
		logger: logger,
	}, nil
}

func (p *PostgresStore) Dimension() int {
	return p.dim
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error) {
	query := `SELECT id, title, source, source_path, contract_type, jurisdiction, source_authority, created_at
		FROM documents WHERE id = $1`

	doc := &types.Document{}
	err := p.pool.QueryRow(ctx, query, docID).Scan(
		&doc.ID,
		&doc.Title,
		&doc.Source,
		&doc.SourcePath,
		&doc.ContractType,
		&doc.Jurisdiction,
		&doc.SourceAuthority,
		&doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) SaveDocument(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO documents (id, title, source, source_path, contract_type, jurisdiction, source_authority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			source = EXCLUDED.source,
			source_path = EXCLUDED.source_path
			`
	_, err := p.pool.Exec(
		ctx,
		query,
		doc.ID,
		doc.Title,
		doc.Source,
		doc.SourcePath,
		doc.ContractType,
		doc.Jurisdiction,
		doc.SourceAuthority,
		doc.CreatedAt,
	)
	return err
}

// Upsert inserts a chunk vector. A record with the same id is left untouched,
// records are never mutated once stored.
func (p *PostgresStore) Upsert(ctx context.Context, rec types.VectorRecord) error {
	if len(rec.Embedding) != p.dim {
		return fmt.Errorf("%w: got %d, index is %d", types.ErrDimensionMismatch, len(rec.Embedding), p.dim)
	}
	query := `
	INSERT INTO chunks (id, doc_id, position, content, token_count, filename, contract_type,
		jurisdiction, upload_date, uploaded_by, source_authority, overlap_bytes, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING
	`
	m := rec.Metadata
	_, err := p.pool.Exec(ctx, query,
		rec.ID, m.DocID, m.Position, rec.Text, rec.TokenCount, m.Filename, m.ContractType,
		m.Jurisdiction, m.UploadDate, m.UploadedBy, m.SourceAuthority, m.OverlapBytes,
		pgvector.NewVector(rec.Embedding),
	)
	return err
}

func (p *PostgresStore) Exists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks WHERE id = $1)`, hash).Scan(&exists)
	return exists, err
}

// hnswMaxEfSearch is the upper bound pgvector accepts for hnsw.ef_search.
const hnswMaxEfSearch = 1000

// efSearch sizes the HNSW candidate list so a filtered search still has
// enough candidates to fill limit rows.
func efSearch(limit int) int {
	return min(max(limit*4, 40), hnswMaxEfSearch)
}

// Query orders by cosine distance only, so the HNSW index stays usable. Ties
// are left to the caller's stable sort. Search settings are scoped to the
// query's transaction; with pgvector 0.8+ the scan continues past filtered
// out candidates until limit rows are found. Filtering follows
// types.Filters.Match.
func (p *PostgresStore) Query(ctx context.Context, queryVec []float32, limit int, filters types.Filters) ([]types.ScoredChunk, error) {
	if len(queryVec) != p.dim {
		return nil, fmt.Errorf("%w: query has %d, index is %d", types.ErrDimensionMismatch, len(queryVec), p.dim)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`, strconv.Itoa(efSearch(limit))); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}
	if p.iterativeScan {
		if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.iterative_scan', 'strict_order', true)`); err != nil {
			return nil, fmt.Errorf("set hnsw.iterative_scan: %w", err)
		}
	}

	query := `
		SELECT id, doc_id, position, content, token_count, filename, contract_type,
		       jurisdiction, upload_date, uploaded_by, source_authority, overlap_bytes,
		       1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE embedding IS NOT NULL
		  AND ($3::text = '' OR lower(coalesce(contract_type, '')) IN (lower($3), '', 'unspecified'))
		  AND ($4::text = '' OR lower(coalesce(jurisdiction, '')) IN (lower($4), '', 'unspecified'))
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := tx.Query(ctx, query, pgvector.NewVector(queryVec), limit, filters.ContractType, filters.Jurisdiction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.ScoredChunk
	for rows.Next() {
		var (
			sc types.ScoredChunk
			m  = &sc.Chunk.Metadata
		)
		if err := rows.Scan(
			&sc.Chunk.SourceHash,
			&m.DocID,
			&m.Position,
			&sc.Chunk.Text,
			&sc.Chunk.TokenCount,
			&m.Filename,
			&m.ContractType,
			&m.Jurisdiction,
			&m.UploadDate,
			&m.UploadedBy,
			&m.SourceAuthority,
			&m.OverlapBytes,
			&sc.Score,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("vector search", "found", len(chunks), "limit", limit)
	return chunks, nil
}

func (p *PostgresStore) Stats(ctx context.Context) (types.IndexStats, error) {
	stats := types.IndexStats{Backend: "postgres", Dimension: p.dim}
	err := p.pool.QueryRow(ctx, `SELECT count(*), count(DISTINCT doc_id) FROM chunks`).
		Scan(&stats.Vectors, &stats.Documents)
	return stats, err
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		source TEXT,
		source_path TEXT,
		contract_type TEXT,
		jurisdiction TEXT,
		source_authority TEXT,
		created_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		position INT NOT NULL,
		content TEXT NOT NULL,
		token_count INT NOT NULL DEFAULT 0,
		filename TEXT,
		contract_type TEXT,
		jurisdiction TEXT,
		upload_date TIMESTAMP WITH TIME ZONE,
		uploaded_by TEXT,
		source_authority TEXT,
		overlap_bytes INT NOT NULL DEFAULT 0,
		embedding vector(%d)
	);

	ALTER TABLE chunks ADD COLUMN IF NOT EXISTS overlap_bytes INT NOT NULL DEFAULT 0;

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);

	CREATE TABLE IF NOT EXISTS analyses (
		id UUID PRIMARY KEY,
		filename TEXT,
		email TEXT,
		contract_type TEXT,
		jurisdiction TEXT,
		risk_score INT NOT NULL,
		result JSONB NOT NULL,
		archive_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	ALTER TABLE analyses ADD COLUMN IF NOT EXISTS archive_path TEXT NOT NULL DEFAULT '';
	`, p.dim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	if err := p.createRagTables(ctx); err != nil {
		return err
	}

	var version string
	err := p.pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read pgvector version: %w", err)
	}
	p.iterativeScan = supportsIterativeScan(version)
	p.logger.Info("pgvector ready", "version", version, "iterative_scan", p.iterativeScan)
	return nil
}

// supportsIterativeScan reports whether the pgvector version has
// hnsw.iterative_scan, added in 0.8.0.
func supportsIterativeScan(version string) bool {
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err != nil {
		return false
	}
	return major > 0 || minor >= 8
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
