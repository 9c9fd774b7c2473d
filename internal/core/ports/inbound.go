package ports

import (
	"context"
	"io"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// RunStarter is the inbound contract for starting an analysis run.
type RunStarter interface {
	Start(ctx context.Context, req StartRunRequest) (*domain.AnalysisRun, error)
	Cancel(ctx context.Context, runID string) error
}

// StartRunRequest describes a new analysis run over uploaded documents.
type StartRunRequest struct {
	DocumentIDs []string
	TaxYear     int
	Client      domain.ClientInfo
	Context     string
}

// RunAnalyzer is the inbound contract for asynchronous run execution.
type RunAnalyzer interface {
	AnalyzeByID(ctx context.Context, runID string) error
}

// RunResultReader exposes the merged record set of a run.
type RunResultReader interface {
	Records(ctx context.Context, runID string) ([]domain.TaxRecord, error)
	Accounts(ctx context.Context, runID string) ([]domain.ForeignAccount, error)
	EditRecord(ctx context.Context, runID, form, code, value string) (*domain.TaxRecord, error)
}

// RunExporter renders the finalized record set of a run.
type RunExporter interface {
	ExportXLSX(ctx context.Context, runID string) ([]byte, error)
	ExportJSON(ctx context.Context, runID string) ([]byte, error)
}

// RateService manages user exchange-rate overrides between runs.
type RateService interface {
	Get(ctx context.Context) (domain.ExchangeRateTable, error)
	Update(ctx context.Context, table domain.ExchangeRateTable) error
}
