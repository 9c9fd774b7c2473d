package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/resilience"
)

// Adapter implements ports.CandidateExtractor. It splits long documents
// into chunks, rate-limits the calls, and merges duplicate proposals
// that appear in overlapping chunks. A failing chunk call is logged and
// skipped; only context cancellation aborts the document.
type Adapter struct {
	client   *Client
	cat      *catalog.Catalog
	chunker  ports.Chunker
	executor *resilience.Executor
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewAdapter(
	client *Client,
	cat *catalog.Catalog,
	chunker ports.Chunker,
	executor *resilience.Executor,
	requestsPerSecond float64,
	logger *slog.Logger,
) *Adapter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &Adapter{
		client:   client,
		cat:      cat,
		chunker:  chunker,
		executor: executor,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:   logger,
	}
}

func (a *Adapter) Extract(ctx context.Context, req ports.ExtractionRequest) ([]domain.CandidateEntry, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}

	chunks := a.chunker.Split(req.Text)
	var candidates []domain.CandidateEntry
	for idx, chunk := range chunks {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		entries, err := a.extractChunk(ctx, req, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Per-chunk extraction failures never sink the document: the
			// chunk contributes nothing and the remaining chunks still run.
			a.logger.Warn("chunk_extraction_failed",
				"document_id", req.DocumentID,
				"chunk", idx+1,
				"chunks", len(chunks),
				"error", err,
			)
			continue
		}
		candidates = append(candidates, a.convert(req.DocumentID, entries)...)
	}

	return dedupe(candidates), nil
}

func (a *Adapter) extractChunk(ctx context.Context, req ports.ExtractionRequest, chunk string) ([]wireEntry, error) {
	prompt := buildExtractionPrompt(a.cat, req, chunk)

	var entries []wireEntry
	err := a.executor.Execute(ctx, "extract_chunk", func(ctx context.Context) error {
		result, callErr := a.client.extractChunk(ctx, prompt)
		if callErr != nil {
			return callErr
		}
		entries = result
		return nil
	}, classifyExtractionError)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *Adapter) convert(documentID string, entries []wireEntry) []domain.CandidateEntry {
	out := make([]domain.CandidateEntry, 0, len(entries))
	for _, entry := range entries {
		form := strings.TrimSpace(entry.Form)
		code := domain.NormalizeCode(entry.Code)
		value := strings.TrimSpace(entry.Value)
		if form == "" || code == "" || value == "" {
			continue
		}

		currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
		if currency == "" {
			currency = "EUR"
		}

		// An absent confidence defaults; an explicit 0 is a valid score.
		confidence := 0.5
		if entry.Confidence != nil && *entry.Confidence >= 0 && *entry.Confidence <= 1 {
			confidence = *entry.Confidence
		}

		candidate := domain.CandidateEntry{
			Form:         form,
			Code:         code,
			Description:  strings.TrimSpace(entry.Description),
			Value:        value,
			Currency:     currency,
			DocumentID:   documentID,
			AccountGroup: entry.AccountGroup,
			Confidence:   confidence,
		}
		if amount, ok := domain.ParseAmount(value); ok {
			candidate.Amount = amount
			candidate.Numeric = true
		}
		out = append(out, candidate)
	}
	return out
}

func dedupe(candidates []domain.CandidateEntry) []domain.CandidateEntry {
	seen := make(map[string]int, len(candidates))
	out := make([]domain.CandidateEntry, 0, len(candidates))
	for _, candidate := range candidates {
		key := fmt.Sprintf("%s|%s|%s|%d|%s",
			candidate.Form, candidate.Code, candidate.DocumentID, candidate.AccountGroup, candidate.Value)
		if idx, ok := seen[key]; ok {
			// Overlapping chunks repeat entries; keep the highest confidence.
			if candidate.Confidence > out[idx].Confidence {
				out[idx].Confidence = candidate.Confidence
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, candidate)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
