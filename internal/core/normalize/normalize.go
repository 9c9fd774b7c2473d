// Package normalize merges extraction candidates from all documents of a run
// into a single consistent TaxRecord set: duplicate resolution, currency
// conversion to EUR, catalog validation, and cross-form reconciliation.
//
// Normalization is a pure aggregation step. It runs after every per-document
// extraction has completed or failed, single-threaded over the full candidate
// set, and is idempotent: the same candidates, rates, and catalog always
// produce the same records.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// RelativeTolerance is the maximum relative difference under which two
// candidate amounts for the same line are considered to agree.
const RelativeTolerance = 0.01

type Result struct {
	Records     []domain.TaxRecord
	Accounts    []domain.ForeignAccount
	Diagnostics []domain.Diagnostic
}

// Normalize merges candidates into TaxRecords and ForeignAccounts. Data
// quality problems surface as per-record status or diagnostics; the only
// fatal conditions are a structurally invalid catalog or rate table.
func Normalize(candidates []domain.CandidateEntry, rates domain.ExchangeRateTable, cat *catalog.Catalog) (*Result, error) {
	if cat == nil || len(cat.Forms()) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "normalize", errors.New("empty catalog"))
	}
	if !rates.Valid() {
		return nil, domain.WrapError(domain.ErrConfiguration, "normalize", errors.New("exchange rate table contains non-positive rates"))
	}

	res := &Result{}

	known, accountCands := res.partition(candidates, cat)

	groups := groupByLine(known)
	keys := make([]lineKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sortLineKeys(keys, cat)

	for _, key := range keys {
		record := mergeGroup(key, groups[key], rates, cat, res)
		res.Records = append(res.Records, record)
	}

	res.Accounts = deriveAccounts(accountCands, cat, res)
	reconcile(res, cat)

	return res, nil
}

type lineKey struct {
	form string
	code string
}

// partition splits candidates into known record lines and 3916 account
// material. Unknown (form, code) pairs are reported as diagnostics and never
// become records.
func (r *Result) partition(candidates []domain.CandidateEntry, cat *catalog.Catalog) ([]domain.CandidateEntry, []domain.CandidateEntry) {
	var known, accounts []domain.CandidateEntry
	for _, cand := range candidates {
		cand.Form = strings.TrimSpace(cand.Form)
		cand.Code = domain.NormalizeCode(cand.Code)
		cand.Currency = strings.ToUpper(strings.TrimSpace(cand.Currency))
		if cand.Currency == "" {
			cand.Currency = "EUR"
		}

		if !cat.IsValid(cand.Form, cand.Code) {
			r.Diagnostics = append(r.Diagnostics, domain.Diagnostic{
				Severity: domain.SeverityError,
				Form:     cand.Form,
				Code:     cand.Code,
				Message:  fmt.Sprintf("unknown line %s/%s (value %q, document %s)", cand.Form, cand.Code, cand.Value, cand.DocumentID),
			})
			continue
		}

		if cand.Form == "3916" {
			accounts = append(accounts, cand)
			continue
		}
		known = append(known, cand)
	}
	return known, accounts
}

func groupByLine(candidates []domain.CandidateEntry) map[lineKey][]domain.CandidateEntry {
	groups := make(map[lineKey][]domain.CandidateEntry)
	for _, cand := range candidates {
		key := lineKey{form: cand.Form, code: cand.Code}
		groups[key] = append(groups[key], cand)
	}
	return groups
}

func sortLineKeys(keys []lineKey, cat *catalog.Catalog) {
	order := make(map[string]int, len(cat.Forms()))
	for i, form := range cat.Forms() {
		order[form] = i
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].form != keys[j].form {
			return order[keys[i].form] < order[keys[j].form]
		}
		return keys[i].code < keys[j].code
	})
}

// sortCandidates orders a group deterministically: highest confidence first,
// ties broken by earliest document id, then by value.
func sortCandidates(cands []domain.CandidateEntry) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		if cands[i].DocumentID != cands[j].DocumentID {
			return cands[i].DocumentID < cands[j].DocumentID
		}
		return cands[i].Value < cands[j].Value
	})
}

func mergeGroup(key lineKey, cands []domain.CandidateEntry, rates domain.ExchangeRateTable, cat *catalog.Catalog, res *Result) domain.TaxRecord {
	line, _ := cat.Lookup(key.form, key.code)
	sortCandidates(cands)

	record := domain.TaxRecord{
		Form:        key.form,
		Code:        key.code,
		Label:       line.Label,
		Status:      domain.RecordValid,
		DocumentIDs: contributingDocs(cands),
		Confidence:  maxConfidence(cands),
	}

	if !line.Type.Numeric() {
		return mergeTextGroup(record, cands, res)
	}
	return mergeAmountGroup(record, line, cands, rates, res)
}

func mergeTextGroup(record domain.TaxRecord, cands []domain.CandidateEntry, res *Result) domain.TaxRecord {
	top := cands[0]
	record.Value = strings.TrimSpace(top.Value)
	record.Currency = "EUR"

	var conflicting []string
	for _, cand := range cands[1:] {
		if !strings.EqualFold(strings.TrimSpace(cand.Value), record.Value) {
			conflicting = append(conflicting, fmt.Sprintf("%q (document %s)", cand.Value, cand.DocumentID))
		}
	}
	if len(conflicting) > 0 {
		record.Status = domain.RecordWarning
		record.Message = fmt.Sprintf("conflicting values: kept %q, also saw %s", record.Value, strings.Join(conflicting, ", "))
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
			Severity: domain.SeverityWarning,
			Form:     record.Form,
			Code:     record.Code,
			Message:  record.Message,
		})
	}
	return record
}

func mergeAmountGroup(record domain.TaxRecord, line catalog.LineSpec, cands []domain.CandidateEntry, rates domain.ExchangeRateTable, res *Result) domain.TaxRecord {
	record.Numeric = true

	// Non-numeric payloads on an amount line fail the catalog type check.
	var numeric, malformed []domain.CandidateEntry
	for _, cand := range cands {
		if cand.Numeric {
			numeric = append(numeric, cand)
		} else {
			malformed = append(malformed, cand)
		}
	}
	if len(numeric) == 0 {
		top := cands[0]
		record.Value = top.Value
		record.Currency = top.Currency
		record.Status = domain.RecordError
		record.Message = fmt.Sprintf("non-numeric value %q for amount line", top.Value)
		return record
	}
	for _, cand := range malformed {
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
			Severity: domain.SeverityWarning,
			Form:     record.Form,
			Code:     record.Code,
			Message:  fmt.Sprintf("ignored non-numeric value %q (document %s)", cand.Value, cand.DocumentID),
		})
	}

	// Split by currency convertibility. A candidate without a known rate can
	// never participate in the merged EUR value.
	type converted struct {
		cand domain.CandidateEntry
		eur  float64
	}
	var convertible []converted
	var missingRate []domain.CandidateEntry
	for _, cand := range numeric {
		eur, ok := rates.ToEUR(cand.Amount, cand.Currency)
		if !ok {
			missingRate = append(missingRate, cand)
			continue
		}
		convertible = append(convertible, converted{cand: cand, eur: round2(eur)})
	}

	if len(convertible) == 0 {
		top := missingRate[0]
		record.Value = top.Value
		record.AmountSource = top.Amount
		record.Currency = top.Currency
		record.Status = domain.RecordError
		record.Message = fmt.Sprintf("missing exchange rate for %s; raw value preserved", top.Currency)
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
			Severity: domain.SeverityError,
			Form:     record.Form,
			Code:     record.Code,
			Message:  fmt.Sprintf("missing exchange rate for %s", top.Currency),
		})
		return record
	}

	top := convertible[0]
	record.AmountEUR = top.eur
	record.AmountSource = top.cand.Amount
	record.Currency = "EUR"
	if top.cand.Currency != "EUR" {
		record.SourceCurrency = top.cand.Currency
	}
	record.Value = formatAmount(top.eur)

	var conflicting []string
	for _, c := range convertible[1:] {
		if !withinTolerance(top.eur, c.eur) {
			conflicting = append(conflicting, fmt.Sprintf("%s EUR (document %s)", formatAmount(c.eur), c.cand.DocumentID))
		}
	}
	if len(conflicting) > 0 {
		record.Status = domain.RecordWarning
		record.Message = fmt.Sprintf("conflicting values: kept %s EUR, also saw %s", formatAmount(top.eur), strings.Join(conflicting, ", "))
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
			Severity: domain.SeverityWarning,
			Form:     record.Form,
			Code:     record.Code,
			Message:  record.Message,
		})
	}

	for _, cand := range missingRate {
		if record.Status == domain.RecordValid {
			record.Status = domain.RecordWarning
			record.Message = appendMessage(record.Message, fmt.Sprintf("ignored value in %s: no exchange rate", cand.Currency))
		}
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
			Severity: domain.SeverityWarning,
			Form:     record.Form,
			Code:     record.Code,
			Message:  fmt.Sprintf("no exchange rate for %s (document %s); value ignored", cand.Currency, cand.DocumentID),
		})
	}

	if record.AmountEUR < 0 && !line.Signed {
		record.Status = domain.RecordError
		record.Message = appendMessage(record.Message, "negative value on an unsigned line")
	}

	if line.Abatement > 0 && record.Status != domain.RecordError {
		taxable := round2(record.AmountEUR * (1 - line.Abatement))
		record.Message = appendMessage(record.Message,
			fmt.Sprintf("micro-BIC %d%% abatement applies: taxable %s EUR", int(line.Abatement*100), formatAmount(taxable)))
	}

	return record
}

func withinTolerance(reference, value float64) bool {
	if reference == value {
		return true
	}
	denom := math.Max(math.Abs(reference), math.SmallestNonzeroFloat64)
	return math.Abs(value-reference)/denom < RelativeTolerance
}

func contributingDocs(cands []domain.CandidateEntry) []string {
	seen := make(map[string]struct{}, len(cands))
	var out []string
	for _, cand := range cands {
		if _, ok := seen[cand.DocumentID]; ok {
			continue
		}
		seen[cand.DocumentID] = struct{}{}
		out = append(out, cand.DocumentID)
	}
	sort.Strings(out)
	return out
}

func maxConfidence(cands []domain.CandidateEntry) float64 {
	var max float64
	for _, cand := range cands {
		if cand.Confidence > max {
			max = cand.Confidence
		}
	}
	return max
}

func appendMessage(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
