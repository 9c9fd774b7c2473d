package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

func loadTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func analyzeFixture(t *testing.T) (*AnalyzeRunUseCase, *runRepoFake, *documentRepoFake, *recordRepoFake, *candidateExtractorFake) {
	t.Helper()
	doc1 := &domain.Document{ID: "d1", Filename: "paie.pdf", Status: domain.StatusUploaded}
	doc2 := &domain.Document{ID: "d2", Filename: "releve.pdf", Status: domain.StatusUploaded}
	docs := newDocumentRepoFake(doc1, doc2)

	run := &domain.AnalysisRun{
		ID:          "run-1",
		Status:      domain.RunPending,
		TaxYear:     2024,
		DocumentIDs: []string{"d1", "d2"},
		Rates:       domain.DefaultExchangeRates(),
	}
	runs := newRunRepoFake(run)

	loader := &loaderFake{texts: map[string]string{"d1": "salaires", "d2": "dividendes"}}
	extractor := &candidateExtractorFake{
		candidates: map[string][]domain.CandidateEntry{
			"d1": {{Form: "2042", Code: "1AJ", Value: "42000", Amount: 42000, Numeric: true, Currency: "EUR", DocumentID: "d1", Confidence: 0.9}},
			"d2": {{Form: "2047", Code: "2AB", Value: "1000", Amount: 1000, Numeric: true, Currency: "USD", DocumentID: "d2", Confidence: 0.8}},
		},
	}

	records := newRecordRepoFake()
	uc := NewAnalyzeRunUseCase(runs, docs, newCandidateRepoFake(), records, loader, extractor, loadTestCatalog(t), 2, testLogger())
	return uc, runs, docs, records, extractor
}

func TestAnalyzeByIDCompletesRun(t *testing.T) {
	uc, runs, docs, records, _ := analyzeFixture(t)

	if err := uc.AnalyzeByID(context.Background(), "run-1"); err != nil {
		t.Fatalf("AnalyzeByID() error = %v", err)
	}

	run, _ := runs.GetByID(context.Background(), "run-1")
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", run.Status, run.Error)
	}

	stored, _ := records.ListRecords(context.Background(), "run-1")
	if len(stored) != 2 {
		t.Fatalf("expected 2 records, got %d", len(stored))
	}

	for _, id := range []string{"d1", "d2"} {
		doc, _ := docs.GetByID(context.Background(), id)
		if doc.Status != domain.StatusExtracted {
			t.Fatalf("document %s status = %s", id, doc.Status)
		}
	}
}

func TestAnalyzeByIDFailedDocumentDegradesNotFails(t *testing.T) {
	uc, runs, docs, records, extractor := analyzeFixture(t)
	extractor.errs = map[string]error{"d2": errors.New("extraction service down")}

	if err := uc.AnalyzeByID(context.Background(), "run-1"); err != nil {
		t.Fatalf("AnalyzeByID() error = %v", err)
	}

	run, _ := runs.GetByID(context.Background(), "run-1")
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", run.Status, run.Error)
	}

	doc, _ := docs.GetByID(context.Background(), "d2")
	if doc.Status != domain.StatusFailed {
		t.Fatalf("expected failed document, got %s", doc.Status)
	}

	found := false
	for _, diag := range run.Diagnostics {
		if diag.Severity == domain.SeverityWarning && strings.Contains(diag.Message, "d2") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected skip diagnostic for d2, got %+v", run.Diagnostics)
	}

	stored, _ := records.ListRecords(context.Background(), "run-1")
	if len(stored) != 1 {
		t.Fatalf("expected 1 record from surviving document, got %d", len(stored))
	}
}

func TestAnalyzeByIDSkipsTerminalRun(t *testing.T) {
	uc, runs, _, records, _ := analyzeFixture(t)
	_ = runs.UpdateStatus(context.Background(), "run-1", domain.RunCancelled, "")

	if err := uc.AnalyzeByID(context.Background(), "run-1"); err != nil {
		t.Fatalf("AnalyzeByID() error = %v", err)
	}

	run, _ := runs.GetByID(context.Background(), "run-1")
	if run.Status != domain.RunCancelled {
		t.Fatalf("cancelled run must stay cancelled, got %s", run.Status)
	}
	stored, _ := records.ListRecords(context.Background(), "run-1")
	if len(stored) != 0 {
		t.Fatalf("cancelled run must not produce records, got %d", len(stored))
	}
}

func TestAnalyzeByIDUnknownRun(t *testing.T) {
	uc, _, _, _, _ := analyzeFixture(t)

	err := uc.AnalyzeByID(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestAnalyzeByIDPassesRunContextToExtractor(t *testing.T) {
	uc, runs, _, _, extractor := analyzeFixture(t)
	runs.runs["run-1"].Context = "Moved from UK in June 2024."

	if err := uc.AnalyzeByID(context.Background(), "run-1"); err != nil {
		t.Fatalf("AnalyzeByID() error = %v", err)
	}
	if len(extractor.requests) == 0 {
		t.Fatal("extractor was never called")
	}
	for _, req := range extractor.requests {
		if req.Context != "Moved from UK in June 2024." {
			t.Fatalf("request missing run context: %+v", req)
		}
		if req.TaxYear != 2024 {
			t.Fatalf("request missing tax year: %+v", req)
		}
	}
}
