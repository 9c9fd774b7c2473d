package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.AnalysisRun) error {
	clientJSON, err := json.Marshal(run.Client)
	if err != nil {
		return fmt.Errorf("marshal client: %w", err)
	}
	idsJSON, err := json.Marshal(run.DocumentIDs)
	if err != nil {
		return fmt.Errorf("marshal document ids: %w", err)
	}
	ratesJSON, err := json.Marshal(run.Rates)
	if err != nil {
		return fmt.Errorf("marshal rates: %w", err)
	}
	diagsJSON, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO analysis_runs (id, status, tax_year, client, run_context, document_ids, rates, diagnostics, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		run.ID, string(run.Status), run.TaxYear, clientJSON, run.Context, idsJSON, ratesJSON, diagsJSON,
		run.Error, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, tax_year, client, run_context, document_ids, rates, diagnostics, error_message, created_at, updated_at
FROM analysis_runs
WHERE id = $1
`, id)

	var run domain.AnalysisRun
	var status string
	var clientRaw, idsRaw, ratesRaw, diagsRaw []byte
	var runContext, errMessage sql.NullString

	err := row.Scan(
		&run.ID, &status, &run.TaxYear, &clientRaw, &runContext, &idsRaw, &ratesRaw, &diagsRaw,
		&errMessage, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRunNotFound, "get run", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal(clientRaw, &run.Client); err != nil {
		return nil, fmt.Errorf("unmarshal client: %w", err)
	}
	if err := json.Unmarshal(idsRaw, &run.DocumentIDs); err != nil {
		return nil, fmt.Errorf("unmarshal document ids: %w", err)
	}
	if err := json.Unmarshal(ratesRaw, &run.Rates); err != nil {
		return nil, fmt.Errorf("unmarshal rates: %w", err)
	}
	if err := json.Unmarshal(diagsRaw, &run.Diagnostics); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.Context = runContext.String
	run.Error = errMessage.String
	return &run, nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_runs
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRunNotFound, "update run status", fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *RunRepository) SaveDiagnostics(ctx context.Context, id string, diags []domain.Diagnostic) error {
	if diags == nil {
		diags = []domain.Diagnostic{}
	}
	diagsJSON, err := json.Marshal(diags)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_runs
SET diagnostics = $2, updated_at = $3
WHERE id = $1
`, id, diagsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRunNotFound, "save diagnostics", fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *RunRepository) AnyActive(ctx context.Context) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM analysis_runs WHERE status IN ('pending', 'running')
)
`)
	var active bool
	if err := row.Scan(&active); err != nil {
		return false, fmt.Errorf("check active runs: %w", err)
	}
	return active, nil
}
