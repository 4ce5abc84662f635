package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"contractrag/types"
)

func (p *PostgresStore) SaveAnalysis(ctx context.Context, rec types.AnalysisRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return "", fmt.Errorf("%w: analysis id: %v", types.ErrPersistence, err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return "", fmt.Errorf("%w: encode analysis: %v", types.ErrPersistence, err)
	}

	query := `INSERT INTO analyses (id, filename, email, contract_type, jurisdiction, risk_score, result, archive_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = p.pool.Exec(ctx, query,
		id, rec.Filename, rec.Email, rec.ContractType, rec.Jurisdiction, rec.Result.RiskScore, result,
		rec.ArchivePath, rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert analysis: %v", types.ErrPersistence, err)
	}
	return rec.ID, nil
}

func (p *PostgresStore) GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, types.ErrNotFound
	}

	query := `SELECT id, filename, email, contract_type, jurisdiction, result, archive_path, created_at
		FROM analyses WHERE id = $1`

	var (
		rec    types.AnalysisRecord
		rowID  uuid.UUID
		result []byte
	)
	err = p.pool.QueryRow(ctx, query, uid).Scan(
		&rowID, &rec.Filename, &rec.Email, &rec.ContractType, &rec.Jurisdiction, &result, &rec.ArchivePath, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	rec.ID = rowID.String()
	return &rec, nil
}

func (p *PostgresStore) DeleteAnalysis(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return types.ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("%w: delete analysis: %v", types.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
