package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"contractrag/rag"
	"contractrag/types"
)

// SQLiteStore is a single-file index for local runs. Search is a brute-force
// cosine scan over the filtered rows.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

func NewSQLiteStore(ctx context.Context, path string, dim int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dim: dim}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		contract_type TEXT NOT NULL DEFAULT '',
		jurisdiction TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_contract_type ON chunks(contract_type);

	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		filename TEXT,
		email TEXT,
		contract_type TEXT,
		jurisdiction TEXT,
		risk_score INTEGER NOT NULL,
		result TEXT NOT NULL,
		archive_path TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);`)
	if err != nil {
		return err
	}
	return s.addColumn(ctx, "analyses", "archive_path", "TEXT NOT NULL DEFAULT ''")
}

// addColumn upgrades tables created before the column existed. SQLite has
// no ADD COLUMN IF NOT EXISTS.
func (s *SQLiteStore) addColumn(ctx context.Context, table, column, decl string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

func (s *SQLiteStore) Dimension() int {
	return s.dim
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec types.VectorRecord) error {
	if len(rec.Embedding) != s.dim {
		return fmt.Errorf("%w: got %d, index is %d", types.ErrDimensionMismatch, len(rec.Embedding), s.dim)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, doc_id, position, content, token_count, contract_type, jurisdiction, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Metadata.DocID, rec.Metadata.Position, rec.Text, rec.TokenCount,
		rec.Metadata.ContractType, rec.Metadata.Jurisdiction, string(meta), encodeEmbedding(rec.Embedding),
	)
	return err
}

func (s *SQLiteStore) Exists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks WHERE id = ?`, hash).Scan(&n)
	return n > 0, err
}

// Query scans rows in rowid order, which is the tie order for equal scores.
// Filtering follows types.Filters.Match.
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, topK int, filters types.Filters) ([]types.ScoredChunk, error) {
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, index is %d", types.ErrDimensionMismatch, len(vec), s.dim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, token_count, metadata, embedding FROM chunks
		WHERE (? = '' OR lower(contract_type) IN (lower(?), '', 'unspecified'))
		  AND (? = '' OR lower(jurisdiction) IN (lower(?), '', 'unspecified'))
		ORDER BY rowid`,
		filters.ContractType, filters.ContractType, filters.Jurisdiction, filters.Jurisdiction,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		var (
			sc   types.ScoredChunk
			meta string
			blob []byte
		)
		if err := rows.Scan(&sc.Chunk.SourceHash, &sc.Chunk.Text, &sc.Chunk.TokenCount, &meta, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &sc.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s metadata: %w", sc.Chunk.SourceHash, err)
		}
		emb, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", sc.Chunk.SourceHash, err)
		}
		sc.Score = rag.CosineSimilarity(vec, emb)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b types.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (types.IndexStats, error) {
	stats := types.IndexStats{Backend: "sqlite", Dimension: s.dim}
	err := s.db.QueryRowContext(ctx, `SELECT count(*), count(DISTINCT doc_id) FROM chunks`).
		Scan(&stats.Vectors, &stats.Documents)
	return stats, err
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec types.AnalysisRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return "", fmt.Errorf("%w: encode analysis: %v", types.ErrPersistence, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, filename, email, contract_type, jurisdiction, risk_score, result, archive_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.Email, rec.ContractType, rec.Jurisdiction, rec.Result.RiskScore,
		string(result), rec.ArchivePath, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert analysis: %v", types.ErrPersistence, err)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	var (
		rec     types.AnalysisRecord
		result  string
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, email, contract_type, jurisdiction, result, archive_path, created_at
		FROM analyses WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Filename, &rec.Email, &rec.ContractType, &rec.Jurisdiction, &result, &rec.ArchivePath, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &rec, nil
}

func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete analysis: %v", types.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeEmbedding stores float32 values little-endian without a length prefix.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
