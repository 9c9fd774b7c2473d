package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

// RunResultUseCase reads and edits the merged record set of a finished run.
// A manual edit always wins: the edited value is taken as final EUR, the
// record is marked valid, and prior conflict messages are cleared.
type RunResultUseCase struct {
	runs    ports.RunRepository
	records ports.RecordRepository
	cat     *catalog.Catalog
}

func NewRunResultUseCase(
	runs ports.RunRepository,
	records ports.RecordRepository,
	cat *catalog.Catalog,
) *RunResultUseCase {
	return &RunResultUseCase{
		runs:    runs,
		records: records,
		cat:     cat,
	}
}

func (uc *RunResultUseCase) Records(ctx context.Context, runID string) ([]domain.TaxRecord, error) {
	if _, err := uc.runs.GetByID(ctx, runID); err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	records, err := uc.records.ListRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (uc *RunResultUseCase) Accounts(ctx context.Context, runID string) ([]domain.ForeignAccount, error) {
	if _, err := uc.runs.GetByID(ctx, runID); err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	accounts, err := uc.records.ListAccounts(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (uc *RunResultUseCase) EditRecord(ctx context.Context, runID, form, code, value string) (*domain.TaxRecord, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "edit record", errors.New("value is required"))
	}

	code = domain.NormalizeCode(code)
	line, ok := uc.cat.Lookup(form, code)
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "edit record",
			fmt.Errorf("unknown line %s/%s", form, code))
	}

	records, err := uc.records.ListRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	var record *domain.TaxRecord
	for i := range records {
		if records[i].Form == form && records[i].Code == code {
			record = &records[i]
			break
		}
	}
	if record == nil {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "edit record",
			fmt.Errorf("run %s has no record %s/%s", runID, form, code))
	}

	if line.Type.Numeric() {
		amount, ok := domain.ParseAmount(value)
		if !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "edit record",
				fmt.Errorf("not a number: %q", value))
		}
		if amount < 0 && !line.Signed {
			return nil, domain.WrapError(domain.ErrInvalidInput, "edit record",
				fmt.Errorf("line %s/%s does not accept negative amounts", form, code))
		}
		record.AmountEUR = amount
		record.AmountSource = amount
		record.Currency = "EUR"
		record.SourceCurrency = ""
		record.Numeric = true
		record.Value = strconv.FormatFloat(amount, 'f', 2, 64)
	} else {
		record.Value = value
		record.Numeric = false
	}

	record.Status = domain.RecordValid
	record.Message = ""
	record.Edited = true

	if err := uc.records.UpdateRecordValue(ctx, runID, *record); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return record, nil
}
