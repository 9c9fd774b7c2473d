package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/export"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

// ExportRunUseCase renders a completed run as an XLSX workbook or a
// Clickimpots JSON document.
type ExportRunUseCase struct {
	runs    ports.RunRepository
	records ports.RecordRepository
	cat     *catalog.Catalog
	now     func() time.Time
}

func NewExportRunUseCase(
	runs ports.RunRepository,
	records ports.RecordRepository,
	cat *catalog.Catalog,
) *ExportRunUseCase {
	return &ExportRunUseCase{
		runs:    runs,
		records: records,
		cat:     cat,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ExportRunUseCase) ExportXLSX(ctx context.Context, runID string) ([]byte, error) {
	records, accounts, meta, err := uc.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	out, err := export.BuildWorkbook(records, accounts, uc.cat, meta)
	if err != nil {
		return nil, fmt.Errorf("build workbook: %w", err)
	}
	return out, nil
}

func (uc *ExportRunUseCase) ExportJSON(ctx context.Context, runID string) ([]byte, error) {
	records, accounts, meta, err := uc.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	out, err := export.BuildClickimpots(records, accounts, uc.cat, meta)
	if err != nil {
		return nil, fmt.Errorf("build clickimpots json: %w", err)
	}
	return out, nil
}

func (uc *ExportRunUseCase) load(ctx context.Context, runID string) ([]domain.TaxRecord, []domain.ForeignAccount, export.Metadata, error) {
	run, err := uc.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, nil, export.Metadata{}, fmt.Errorf("load run: %w", err)
	}
	if run.Status != domain.RunCompleted {
		return nil, nil, export.Metadata{}, domain.WrapError(domain.ErrInvalidInput, "export run",
			fmt.Errorf("run is %s, export requires a completed run", run.Status))
	}

	records, err := uc.records.ListRecords(ctx, runID)
	if err != nil {
		return nil, nil, export.Metadata{}, fmt.Errorf("list records: %w", err)
	}
	accounts, err := uc.records.ListAccounts(ctx, runID)
	if err != nil {
		return nil, nil, export.Metadata{}, fmt.Errorf("list accounts: %w", err)
	}

	meta := export.Metadata{
		TaxYear:     run.TaxYear,
		ClientName:  run.Client.Name,
		GeneratedAt: uc.now(),
	}
	return records, accounts, meta, nil
}
