package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

// StartRunUseCase creates an analysis run over already-uploaded documents
// and hands it to the worker over the queue. The exchange-rate table is
// snapshotted into the run at start, so overrides applied later never touch
// a run in flight.
type StartRunUseCase struct {
	runs           ports.RunRepository
	documents      ports.DocumentRepository
	rates          ports.RateRepository
	queue          ports.MessageQueue
	defaultTaxYear int
}

func NewStartRunUseCase(
	runs ports.RunRepository,
	documents ports.DocumentRepository,
	rates ports.RateRepository,
	queue ports.MessageQueue,
	defaultTaxYear int,
) *StartRunUseCase {
	return &StartRunUseCase{
		runs:           runs,
		documents:      documents,
		rates:          rates,
		queue:          queue,
		defaultTaxYear: defaultTaxYear,
	}
}

func (uc *StartRunUseCase) Start(ctx context.Context, req ports.StartRunRequest) (*domain.AnalysisRun, error) {
	if len(req.DocumentIDs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start run", errors.New("no documents selected"))
	}

	docs, err := uc.documents.ListByIDs(ctx, req.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	if len(docs) != len(uniqueIDs(req.DocumentIDs)) {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "start run",
			fmt.Errorf("found %d of %d documents", len(docs), len(uniqueIDs(req.DocumentIDs))))
	}

	table, err := uc.rates.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exchange rates: %w", err)
	}

	taxYear := req.TaxYear
	if taxYear == 0 {
		taxYear = uc.defaultTaxYear
	}

	now := time.Now().UTC()
	run := &domain.AnalysisRun{
		ID:          uuid.NewString(),
		Status:      domain.RunPending,
		TaxYear:     taxYear,
		Client:      req.Client,
		Context:     req.Context,
		DocumentIDs: uniqueIDs(req.DocumentIDs),
		Rates:       table,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if err := uc.queue.PublishRunRequested(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("publish run request: %w", err)
	}

	return run, nil
}

func (uc *StartRunUseCase) Cancel(ctx context.Context, runID string) error {
	run, err := uc.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status.Terminal() {
		return domain.WrapError(domain.ErrInvalidInput, "cancel run",
			fmt.Errorf("run already %s", run.Status))
	}
	if err := uc.runs.UpdateStatus(ctx, runID, domain.RunCancelled, ""); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
