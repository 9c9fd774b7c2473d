package domain

type RecordStatus string

const (
	RecordValid   RecordStatus = "valid"
	RecordWarning RecordStatus = "warning"
	RecordError   RecordStatus = "error"
)

// TaxRecord is the validated, merged per-(form, line code) value for a run.
// One record exists per unique (form, code) pair after normalization.
type TaxRecord struct {
	Form         string  `json:"form"`
	Code         string  `json:"code"`
	Label        string  `json:"label,omitempty"`
	Value        string  `json:"value"`
	AmountEUR    float64 `json:"amount_eur"`
	AmountSource float64 `json:"amount_source,omitempty"`
	// Currency is "EUR" once conversion succeeded; it stays the source
	// currency only when no exchange rate made conversion possible.
	Currency       string       `json:"currency"`
	SourceCurrency string       `json:"source_currency,omitempty"`
	Numeric        bool         `json:"numeric"`
	Status         RecordStatus `json:"status"`
	Message        string       `json:"message,omitempty"`
	DocumentIDs    []string     `json:"document_ids"`
	Confidence     float64      `json:"confidence"`
	Edited         bool         `json:"edited,omitempty"`
}

// ForeignAccount is derived during normalization from 3916-tagged
// candidates, keyed by the normalized account identifier within a run.
type ForeignAccount struct {
	AccountNumber   string   `json:"account_number"`
	Country         string   `json:"country,omitempty"`
	Institution     string   `json:"institution,omitempty"`
	Address         string   `json:"address,omitempty"`
	AccountType     string   `json:"account_type,omitempty"`
	LinkedLineCodes []string `json:"linked_line_codes,omitempty"`
	DocumentIDs     []string `json:"document_ids"`
}

type DiagnosticSeverity string

const (
	SeverityInfo    DiagnosticSeverity = "info"
	SeverityWarning DiagnosticSeverity = "warning"
	SeverityError   DiagnosticSeverity = "error"
)

// Diagnostic is a run-level finding that is not attached to a single record,
// e.g. an unknown (form, code) pair or a missing exchange rate.
type Diagnostic struct {
	Severity DiagnosticSeverity `json:"severity"`
	Form     string             `json:"form,omitempty"`
	Code     string             `json:"code,omitempty"`
	Message  string             `json:"message"`
}
