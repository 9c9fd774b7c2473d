package domain

import (
	"regexp"
	"strings"
)

// CandidateEntry is one unvalidated extraction proposal from a single
// document chunk. Candidates are immutable: the normalization engine merges
// them into TaxRecords but never mutates them.
type CandidateEntry struct {
	Form        string  `json:"form"`
	Code        string  `json:"code"`
	Description string  `json:"description,omitempty"`
	Value       string  `json:"value"`
	Amount      float64 `json:"amount"`
	Numeric     bool    `json:"numeric"`
	Currency    string  `json:"currency"`
	DocumentID  string  `json:"document_id"`
	// AccountGroup ties 3916 candidates of the same foreign account together
	// within one document. Zero for non-account candidates.
	AccountGroup int     `json:"account_group,omitempty"`
	Confidence   float64 `json:"confidence"`
}

var codeCharset = regexp.MustCompile(`[^0-9A-Z]`)

// NormalizeCode uppercases a line code and strips everything outside [0-9A-Z],
// so "1 aj" and "1-AJ" both resolve to "1AJ".
func NormalizeCode(code string) string {
	return codeCharset.ReplaceAllString(strings.ToUpper(code), "")
}
