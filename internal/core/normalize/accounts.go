package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// 3916 line codes carrying the account fields.
const (
	codeAccountCountry     = "8UU"
	codeAccountNumber      = "8TK"
	codeAccountInstitution = "8QS"
	codeAccountAddress     = "8RT"
	codeAccountType        = "8QU"
)

// deriveAccounts folds 3916 candidates into ForeignAccounts. Candidates of
// the same account share a (document, group) pair; accounts are then merged
// across documents by normalized account identifier.
func deriveAccounts(cands []domain.CandidateEntry, cat *catalog.Catalog, res *Result) []domain.ForeignAccount {
	type groupKey struct {
		doc   string
		group int
	}
	groups := make(map[groupKey][]domain.CandidateEntry)
	var order []groupKey
	for _, cand := range cands {
		key := groupKey{doc: cand.DocumentID, group: cand.AccountGroup}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], cand)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].doc != order[j].doc {
			return order[i].doc < order[j].doc
		}
		return order[i].group < order[j].group
	})

	byNumber := make(map[string]*domain.ForeignAccount)
	var numbers []string
	for _, key := range order {
		partial := accountFromGroup(groups[key])
		if partial.AccountNumber == "" {
			res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
				Severity: domain.SeverityWarning,
				Form:     "3916",
				Message:  fmt.Sprintf("foreign account material without an account number (document %s)", key.doc),
			})
			continue
		}

		id := normalizeAccountID(partial.AccountNumber)
		existing, ok := byNumber[id]
		if !ok {
			partial.AccountNumber = id
			byNumber[id] = &partial
			numbers = append(numbers, id)
			continue
		}
		mergeAccount(existing, partial, res)
	}

	sort.Strings(numbers)
	out := make([]domain.ForeignAccount, 0, len(numbers))
	for _, id := range numbers {
		acc := byNumber[id]
		sort.Strings(acc.DocumentIDs)
		out = append(out, *acc)
	}
	return out
}

func accountFromGroup(cands []domain.CandidateEntry) domain.ForeignAccount {
	sortCandidates(cands)
	var acc domain.ForeignAccount
	for _, cand := range cands {
		value := strings.TrimSpace(cand.Value)
		if value == "" {
			continue
		}
		switch cand.Code {
		case codeAccountNumber:
			if acc.AccountNumber == "" {
				acc.AccountNumber = value
			}
		case codeAccountCountry:
			if acc.Country == "" {
				acc.Country = strings.ToUpper(value)
			}
		case codeAccountInstitution:
			if acc.Institution == "" {
				acc.Institution = value
			}
		case codeAccountAddress:
			if acc.Address == "" {
				acc.Address = value
			}
		case codeAccountType:
			if acc.AccountType == "" {
				acc.AccountType = value
			}
		}
		acc.DocumentIDs = appendUnique(acc.DocumentIDs, cand.DocumentID)
	}
	return acc
}

// mergeAccount folds a later sighting of the same account number into the
// first one. Conflicting country or institution raises a warning, never an
// error: the first-seen value wins.
func mergeAccount(dst *domain.ForeignAccount, src domain.ForeignAccount, res *Result) {
	if src.Country != "" {
		if dst.Country == "" {
			dst.Country = src.Country
		} else if !strings.EqualFold(dst.Country, src.Country) {
			res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
				Severity: domain.SeverityWarning,
				Form:     "3916",
				Message:  fmt.Sprintf("account %s: conflicting country %q vs %q", dst.AccountNumber, dst.Country, src.Country),
			})
		}
	}
	if src.Institution != "" {
		if dst.Institution == "" {
			dst.Institution = src.Institution
		} else if !strings.EqualFold(dst.Institution, src.Institution) {
			res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
				Severity: domain.SeverityWarning,
				Form:     "3916",
				Message:  fmt.Sprintf("account %s: conflicting institution %q vs %q", dst.AccountNumber, dst.Institution, src.Institution),
			})
		}
	}
	if dst.Address == "" {
		dst.Address = src.Address
	}
	if dst.AccountType == "" {
		dst.AccountType = src.AccountType
	}
	for _, doc := range src.DocumentIDs {
		dst.DocumentIDs = appendUnique(dst.DocumentIDs, doc)
	}
}

// reconcile checks every derived foreign account against the 2047 income
// lines its catalog cross-reference points at. An account with no non-zero
// income record gets a warning: foreign accounts may legitimately carry no
// income in a given year.
func reconcile(res *Result, cat *catalog.Catalog) {
	refs := cat.CrossReferences("3916", codeAccountNumber)
	if len(refs) == 0 {
		return
	}

	nonZero := make(map[lineKey]bool)
	for _, rec := range res.Records {
		if rec.Numeric && rec.AmountEUR != 0 && rec.Status != domain.RecordError {
			nonZero[lineKey{form: rec.Form, code: rec.Code}] = true
		}
	}

	for i := range res.Accounts {
		acc := &res.Accounts[i]
		var linked []string
		for _, ref := range refs {
			if nonZero[lineKey{form: ref.Form, code: ref.Code}] {
				linked = append(linked, ref.Code)
			}
		}
		sort.Strings(linked)
		acc.LinkedLineCodes = linked

		if len(linked) == 0 {
			res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
				Severity: domain.SeverityWarning,
				Form:     "3916",
				Message:  fmt.Sprintf("account %s: no corresponding 2047 income declared", acc.AccountNumber),
			})
		}
	}
}

var accountIDCharset = strings.NewReplacer(" ", "", "-", "", ".", "")

func normalizeAccountID(raw string) string {
	return strings.ToUpper(accountIDCharset.Replace(strings.TrimSpace(raw)))
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
