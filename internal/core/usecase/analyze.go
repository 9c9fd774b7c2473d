package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/normalize"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

// AnalyzeRunUseCase executes one analysis run end to end: per-document
// extraction fanned out across a bounded worker group, then single-threaded
// normalization over the full candidate set. A failing document degrades the
// run with a diagnostic; only structural problems fail the run itself.
type AnalyzeRunUseCase struct {
	runs       ports.RunRepository
	documents  ports.DocumentRepository
	candidates ports.CandidateRepository
	records    ports.RecordRepository
	loader     ports.TextExtractor
	extractor  ports.CandidateExtractor
	cat        *catalog.Catalog
	workers    int
	logger     *slog.Logger
}

func NewAnalyzeRunUseCase(
	runs ports.RunRepository,
	documents ports.DocumentRepository,
	candidates ports.CandidateRepository,
	records ports.RecordRepository,
	loader ports.TextExtractor,
	extractor ports.CandidateExtractor,
	cat *catalog.Catalog,
	workers int,
	logger *slog.Logger,
) *AnalyzeRunUseCase {
	if workers <= 0 {
		workers = 4
	}
	return &AnalyzeRunUseCase{
		runs:       runs,
		documents:  documents,
		candidates: candidates,
		records:    records,
		loader:     loader,
		extractor:  extractor,
		cat:        cat,
		workers:    workers,
		logger:     logger,
	}
}

func (uc *AnalyzeRunUseCase) AnalyzeByID(ctx context.Context, runID string) error {
	run, err := uc.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status.Terminal() {
		uc.logger.Info("run_already_terminal", "run_id", runID, "status", run.Status)
		return nil
	}

	if err := uc.runs.UpdateStatus(ctx, runID, domain.RunRunning, ""); err != nil {
		return fmt.Errorf("set status=running: %w", err)
	}

	diags, err := uc.extractAll(ctx, run)
	if err != nil {
		return uc.fail(ctx, runID, err)
	}

	// A cancel issued during extraction wins over the result.
	if cancelled, err := uc.cancelled(ctx, runID); err != nil {
		return uc.fail(ctx, runID, err)
	} else if cancelled {
		uc.logger.Info("run_cancelled", "run_id", runID)
		return nil
	}

	candidates, err := uc.candidates.ListByRun(ctx, runID)
	if err != nil {
		return uc.fail(ctx, runID, fmt.Errorf("load candidates: %w", err))
	}

	result, err := normalize.Normalize(candidates, run.Rates, uc.cat)
	if err != nil {
		return uc.fail(ctx, runID, fmt.Errorf("normalize candidates: %w", err))
	}

	if err := uc.records.ReplaceForRun(ctx, runID, result.Records, result.Accounts); err != nil {
		return uc.fail(ctx, runID, fmt.Errorf("persist records: %w", err))
	}

	diags = append(diags, result.Diagnostics...)
	if err := uc.runs.SaveDiagnostics(ctx, runID, diags); err != nil {
		return uc.fail(ctx, runID, fmt.Errorf("persist diagnostics: %w", err))
	}

	if err := uc.runs.UpdateStatus(ctx, runID, domain.RunCompleted, ""); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}

	uc.logger.Info("run_completed",
		"run_id", runID,
		"records", len(result.Records),
		"accounts", len(result.Accounts),
		"diagnostics", len(diags),
	)
	return nil
}

// extractAll runs the per-document pipeline concurrently. Document failures
// are collected as diagnostics; the group only aborts on context
// cancellation.
func (uc *AnalyzeRunUseCase) extractAll(ctx context.Context, run *domain.AnalysisRun) ([]domain.Diagnostic, error) {
	docs, err := uc.documents.ListByIDs(ctx, run.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	diagCh := make(chan domain.Diagnostic, len(docs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.workers)
	for _, doc := range docs {
		doc := doc
		group.Go(func() error {
			if err := uc.extractOne(groupCtx, run, &doc); err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				diagCh <- domain.Diagnostic{
					Severity: domain.SeverityWarning,
					Message:  fmt.Sprintf("document %s (%s) skipped: %v", doc.ID, doc.Filename, err),
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	close(diagCh)

	var diags []domain.Diagnostic
	for diag := range diagCh {
		diags = append(diags, diag)
	}
	return diags, nil
}

func (uc *AnalyzeRunUseCase) extractOne(ctx context.Context, run *domain.AnalysisRun, doc *domain.Document) error {
	if err := uc.documents.UpdateStatus(ctx, doc.ID, domain.StatusExtracting, ""); err != nil {
		return fmt.Errorf("set status=extracting: %w", err)
	}

	extracted, err := uc.loader.Extract(ctx, doc)
	if err != nil {
		_ = uc.documents.UpdateStatus(ctx, doc.ID, domain.StatusFailed, err.Error())
		return fmt.Errorf("extract text: %w", err)
	}
	for _, warning := range extracted.Warnings {
		uc.logger.Warn("extraction_warning", "run_id", run.ID, "document_id", doc.ID, "warning", warning)
	}

	candidates, err := uc.extractor.Extract(ctx, ports.ExtractionRequest{
		DocumentID: doc.ID,
		Text:       extracted.Text,
		TaxYear:    run.TaxYear,
		Context:    run.Context,
	})
	if err != nil {
		_ = uc.documents.UpdateStatus(ctx, doc.ID, domain.StatusFailed, err.Error())
		return fmt.Errorf("extract candidates: %w", err)
	}

	if err := uc.candidates.SaveForDocument(ctx, run.ID, doc.ID, candidates); err != nil {
		_ = uc.documents.UpdateStatus(ctx, doc.ID, domain.StatusFailed, err.Error())
		return fmt.Errorf("save candidates: %w", err)
	}

	if err := uc.documents.UpdateStatus(ctx, doc.ID, domain.StatusExtracted, ""); err != nil {
		return fmt.Errorf("set status=extracted: %w", err)
	}

	uc.logger.Info("document_extracted",
		"run_id", run.ID,
		"document_id", doc.ID,
		"method", extracted.Method,
		"candidates", len(candidates),
	)
	return nil
}

func (uc *AnalyzeRunUseCase) cancelled(ctx context.Context, runID string) (bool, error) {
	run, err := uc.runs.GetByID(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("reload run: %w", err)
	}
	return run.Status == domain.RunCancelled, nil
}

func (uc *AnalyzeRunUseCase) fail(ctx context.Context, runID string, cause error) error {
	if err := uc.runs.UpdateStatus(ctx, runID, domain.RunFailed, cause.Error()); err != nil {
		return fmt.Errorf("%w; mark failed status: %v", cause, err)
	}
	return cause
}
