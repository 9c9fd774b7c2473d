package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

type jsonLine struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

type jsonAccount struct {
	AccountNumber   string   `json:"account_number"`
	Country         string   `json:"country,omitempty"`
	Institution     string   `json:"institution,omitempty"`
	Address         string   `json:"address,omitempty"`
	AccountType     string   `json:"account_type,omitempty"`
	LinkedLineCodes []string `json:"linked_line_codes,omitempty"`
}

type jsonMetadata struct {
	TaxYear     int    `json:"tax_year,omitempty"`
	ClientName  string `json:"client_name,omitempty"`
	GeneratedAt string `json:"generated_at"`
}

// BuildClickimpots renders the import document for the downstream filing
// software: top-level keys are the form identifiers, each mapping to an
// array of {code, value} objects, plus a foreign_accounts array. Every
// supported form is present even when empty. Output is byte-identical for
// identical inputs and timestamp.
func BuildClickimpots(records []domain.TaxRecord, accounts []domain.ForeignAccount, cat *catalog.Catalog, meta Metadata) ([]byte, error) {
	doc := make(map[string]any, len(cat.Forms())+2)

	for _, form := range cat.Forms() {
		doc[form] = []jsonLine{}
	}
	for _, rec := range records {
		if rec.Status == domain.RecordError {
			continue
		}
		lines, _ := doc[rec.Form].([]jsonLine)
		var value any = rec.Value
		if rec.Numeric {
			value = rec.AmountEUR
		}
		doc[rec.Form] = append(lines, jsonLine{Code: rec.Code, Value: value})
	}

	exportAccounts := make([]jsonAccount, 0, len(accounts))
	for _, acc := range accounts {
		exportAccounts = append(exportAccounts, jsonAccount{
			AccountNumber:   acc.AccountNumber,
			Country:         acc.Country,
			Institution:     acc.Institution,
			Address:         acc.Address,
			AccountType:     acc.AccountType,
			LinkedLineCodes: acc.LinkedLineCodes,
		})
	}
	doc["foreign_accounts"] = exportAccounts

	doc["metadata"] = jsonMetadata{
		TaxYear:     meta.TaxYear,
		ClientName:  meta.ClientName,
		GeneratedAt: meta.GeneratedAt.UTC().Format(time.RFC3339),
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export document: %w", err)
	}
	return out, nil
}
