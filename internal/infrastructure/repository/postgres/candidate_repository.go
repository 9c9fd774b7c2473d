package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// CandidateRepository stores raw extraction proposals. Candidates are
// append-only within a run; normalization reads them, never rewrites them.
type CandidateRepository struct {
	db *sql.DB
}

func NewCandidateRepository(db *sql.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

func (r *CandidateRepository) SaveForDocument(ctx context.Context, runID, documentID string, candidates []domain.CandidateEntry) error {
	if len(candidates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candidates tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, candidate := range candidates {
		entryJSON, err := json.Marshal(candidate)
		if err != nil {
			return fmt.Errorf("marshal candidate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO candidates (run_id, document_id, entry)
VALUES ($1,$2,$3)
`, runID, documentID, entryJSON); err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candidates tx: %w", err)
	}
	return nil
}

func (r *CandidateRepository) ListByRun(ctx context.Context, runID string) ([]domain.CandidateEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT entry
FROM candidates
WHERE run_id = $1
ORDER BY id
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []domain.CandidateEntry
	for rows.Next() {
		var entryRaw []byte
		if err := rows.Scan(&entryRaw); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		var candidate domain.CandidateEntry
		if err := json.Unmarshal(entryRaw, &candidate); err != nil {
			return nil, fmt.Errorf("unmarshal candidate: %w", err)
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}
