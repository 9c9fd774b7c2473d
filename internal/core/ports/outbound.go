package ports

import (
	"context"
	"io"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
}

// RunRepository persists analysis-run state.
type RunRepository interface {
	Create(ctx context.Context, run *domain.AnalysisRun) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisRun, error)
	UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errMessage string) error
	SaveDiagnostics(ctx context.Context, id string, diags []domain.Diagnostic) error
	AnyActive(ctx context.Context) (bool, error)
}

// CandidateRepository stores immutable extraction candidates per run.
type CandidateRepository interface {
	SaveForDocument(ctx context.Context, runID, documentID string, candidates []domain.CandidateEntry) error
	ListByRun(ctx context.Context, runID string) ([]domain.CandidateEntry, error)
}

// RecordRepository stores the merged TaxRecord set and derived foreign
// accounts of a run.
type RecordRepository interface {
	ReplaceForRun(ctx context.Context, runID string, records []domain.TaxRecord, accounts []domain.ForeignAccount) error
	ListRecords(ctx context.Context, runID string) ([]domain.TaxRecord, error)
	ListAccounts(ctx context.Context, runID string) ([]domain.ForeignAccount, error)
	UpdateRecordValue(ctx context.Context, runID string, record domain.TaxRecord) error
}

// RateRepository stores the user-overridable exchange-rate table.
type RateRepository interface {
	Get(ctx context.Context) (domain.ExchangeRateTable, error)
	Replace(ctx context.Context, table domain.ExchangeRateTable) error
}

// ObjectStorage stores source documents for the duration of a session.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue hands analysis runs from the API to the worker.
type MessageQueue interface {
	PublishRunRequested(ctx context.Context, runID string) error
	SubscribeRunRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor turns a stored document into plain text, using direct
// extraction where possible and OCR as fallback.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error)
}

// ExtractionRequest carries one document's text to the AI boundary together
// with run-level context.
type ExtractionRequest struct {
	DocumentID string
	Text       string
	TaxYear    int
	Context    string
}

// CandidateExtractor is the AI extraction boundary: schema-constrained
// structured extraction of tax line candidates from document text. A failing
// service call costs only that call's candidates and is logged, never raised
// as fatal; Extract errors only when the context is cancelled.
type CandidateExtractor interface {
	Extract(ctx context.Context, req ExtractionRequest) ([]domain.CandidateEntry, error)
}

// Chunker splits long document text into windows that fit the extraction
// service's context budget.
type Chunker interface {
	Split(text string) []string
}
