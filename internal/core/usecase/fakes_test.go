package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

type documentRepoFake struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	created []string
	getErr  error
}

func newDocumentRepoFake(docs ...*domain.Document) *documentRepoFake {
	f := &documentRepoFake{docs: map[string]*domain.Document{}}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
	}
	return f
}

func (f *documentRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.created = append(f.created, doc.ID)
	return nil
}

func (f *documentRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *documentRepoFake) ListByIDs(_ context.Context, ids []string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *documentRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document status", errors.New(id))
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

type runRepoFake struct {
	mu        sync.Mutex
	runs      map[string]*domain.AnalysisRun
	active    bool
	activeErr error
}

func newRunRepoFake(runs ...*domain.AnalysisRun) *runRepoFake {
	f := &runRepoFake{runs: map[string]*domain.AnalysisRun{}}
	for _, run := range runs {
		f.runs[run.ID] = run
	}
	return f
}

func (f *runRepoFake) Create(_ context.Context, run *domain.AnalysisRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyRun := *run
	f.runs[run.ID] = &copyRun
	return nil
}

func (f *runRepoFake) GetByID(_ context.Context, id string) (*domain.AnalysisRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRunNotFound, "get run", errors.New(id))
	}
	copyRun := *run
	return &copyRun, nil
}

func (f *runRepoFake) UpdateStatus(_ context.Context, id string, status domain.RunStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return domain.WrapError(domain.ErrRunNotFound, "update run status", errors.New(id))
	}
	run.Status = status
	run.Error = errMessage
	return nil
}

func (f *runRepoFake) SaveDiagnostics(_ context.Context, id string, diags []domain.Diagnostic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return domain.WrapError(domain.ErrRunNotFound, "save diagnostics", errors.New(id))
	}
	run.Diagnostics = diags
	return nil
}

func (f *runRepoFake) AnyActive(context.Context) (bool, error) {
	if f.activeErr != nil {
		return false, f.activeErr
	}
	return f.active, nil
}

type candidateRepoFake struct {
	mu      sync.Mutex
	entries map[string][]domain.CandidateEntry
}

func newCandidateRepoFake() *candidateRepoFake {
	return &candidateRepoFake{entries: map[string][]domain.CandidateEntry{}}
}

func (f *candidateRepoFake) SaveForDocument(_ context.Context, runID, _ string, candidates []domain.CandidateEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[runID] = append(f.entries[runID], candidates...)
	return nil
}

func (f *candidateRepoFake) ListByRun(_ context.Context, runID string) ([]domain.CandidateEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[runID], nil
}

type recordRepoFake struct {
	mu       sync.Mutex
	records  map[string][]domain.TaxRecord
	accounts map[string][]domain.ForeignAccount
}

func newRecordRepoFake() *recordRepoFake {
	return &recordRepoFake{
		records:  map[string][]domain.TaxRecord{},
		accounts: map[string][]domain.ForeignAccount{},
	}
}

func (f *recordRepoFake) ReplaceForRun(_ context.Context, runID string, records []domain.TaxRecord, accounts []domain.ForeignAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[runID] = records
	f.accounts[runID] = accounts
	return nil
}

func (f *recordRepoFake) ListRecords(_ context.Context, runID string) ([]domain.TaxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[runID], nil
}

func (f *recordRepoFake) ListAccounts(_ context.Context, runID string) ([]domain.ForeignAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[runID], nil
}

func (f *recordRepoFake) UpdateRecordValue(_ context.Context, runID string, record domain.TaxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.records[runID] {
		if existing.Form == record.Form && existing.Code == record.Code {
			f.records[runID][i] = record
			return nil
		}
	}
	return domain.WrapError(domain.ErrRecordNotFound, "update record", errors.New(record.Code))
}

type rateRepoFake struct {
	table      domain.ExchangeRateTable
	replaced   *domain.ExchangeRateTable
	getErr     error
	replaceErr error
}

func (f *rateRepoFake) Get(context.Context) (domain.ExchangeRateTable, error) {
	if f.getErr != nil {
		return domain.ExchangeRateTable{}, f.getErr
	}
	if f.table.Rates == nil {
		return domain.DefaultExchangeRates(), nil
	}
	return f.table, nil
}

func (f *rateRepoFake) Replace(_ context.Context, table domain.ExchangeRateTable) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = &table
	return nil
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type queueFake struct {
	mu         sync.Mutex
	published  []string
	publishErr error
}

func (f *queueFake) PublishRunRequested(_ context.Context, runID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, runID)
	return nil
}

func (f *queueFake) SubscribeRunRequested(context.Context, func(context.Context, string) error) error {
	return nil
}

type loaderFake struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
}

func (f *loaderFake) Extract(_ context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[doc.ID]; ok {
		return domain.ExtractedText{}, err
	}
	return domain.ExtractedText{DocumentID: doc.ID, Text: f.texts[doc.ID], Method: "fake"}, nil
}

type candidateExtractorFake struct {
	mu         sync.Mutex
	candidates map[string][]domain.CandidateEntry
	errs       map[string]error
	requests   []ports.ExtractionRequest
}

func (f *candidateExtractorFake) Extract(_ context.Context, req ports.ExtractionRequest) ([]domain.CandidateEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.DocumentID]; ok {
		return nil, err
	}
	return f.candidates[req.DocumentID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
