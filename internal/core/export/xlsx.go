// Package export renders a finalized TaxRecord set into the two delivery
// formats: an IRPP-style spreadsheet and a Clickimpots-compatible JSON
// document. Both builders are pure functions of their inputs; the only
// non-reproducible value, the generation timestamp, is passed in by the
// caller and isolated to a labeled metadata field.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// Metadata is run-level context stamped into exports, never into records.
type Metadata struct {
	TaxYear     int
	ClientName  string
	GeneratedAt time.Time
}

const accountsSheet = "Comptes étrangers"

var recordHeaders = []string{"Code", "Label", "Value", "Currency", "Status", "Notes"}
var accountHeaders = []string{"Account number", "Country", "Institution", "Address", "Type", "Linked income lines"}

// BuildWorkbook renders one sheet per supported form plus a foreign-accounts
// sheet. An empty record set yields header-only sheets.
func BuildWorkbook(records []domain.TaxRecord, accounts []domain.ForeignAccount, cat *catalog.Catalog, meta Metadata) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	byForm := make(map[string][]domain.TaxRecord)
	for _, rec := range records {
		byForm[rec.Form] = append(byForm[rec.Form], rec)
	}

	for _, form := range cat.Forms() {
		if form == "3916" {
			continue
		}
		sheet := sheetName(form, cat)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		if err := writeRecordSheet(f, sheet, byForm[form]); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(accountsSheet); err != nil {
		return nil, fmt.Errorf("create sheet %s: %w", accountsSheet, err)
	}
	if err := writeAccountSheet(f, accounts); err != nil {
		return nil, err
	}

	// Drop the implicit default sheet so only form sheets remain.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	if meta.TaxYear > 0 {
		title := fmt.Sprintf("IRPP %d", meta.TaxYear)
		if meta.ClientName != "" {
			title += " - " + meta.ClientName
		}
		if err := f.SetDocProps(&excelize.DocProperties{
			Title:   title,
			Created: meta.GeneratedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return nil, fmt.Errorf("set workbook properties: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func sheetName(form string, cat *catalog.Catalog) string {
	label := cat.FormLabel(form)
	if label == "" {
		return form
	}
	// excelize caps sheet names at 31 characters.
	name := form + " - " + label
	if len(name) > 31 {
		name = name[:31]
	}
	return strings.TrimSpace(name)
}

func writeRecordSheet(f *excelize.File, sheet string, records []domain.TaxRecord) error {
	widths := []float64{10, 42, 16, 10, 10, 50}
	for i, h := range recordHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("write header on %s: %w", sheet, err)
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return fmt.Errorf("set column width on %s: %w", sheet, err)
		}
	}

	for row, rec := range records {
		values := []any{
			rec.Code,
			rec.Label,
			recordCellValue(rec),
			rec.Currency,
			string(rec.Status),
			rec.Message,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write row on %s: %w", sheet, err)
			}
		}
	}
	return nil
}

func recordCellValue(rec domain.TaxRecord) any {
	if rec.Numeric && rec.Status != domain.RecordError {
		return rec.AmountEUR
	}
	return rec.Value
}

func writeAccountSheet(f *excelize.File, accounts []domain.ForeignAccount) error {
	widths := []float64{30, 10, 25, 40, 14, 22}
	for i, h := range accountHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(accountsSheet, cell, h); err != nil {
			return fmt.Errorf("write account header: %w", err)
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(accountsSheet, col, col, widths[i]); err != nil {
			return fmt.Errorf("set account column width: %w", err)
		}
	}

	for row, acc := range accounts {
		values := []any{
			acc.AccountNumber,
			acc.Country,
			acc.Institution,
			acc.Address,
			acc.AccountType,
			strings.Join(acc.LinkedLineCodes, ", "),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(accountsSheet, cell, v); err != nil {
				return fmt.Errorf("write account row: %w", err)
			}
		}
	}
	return nil
}
