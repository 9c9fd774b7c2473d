package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

type ingestFake struct {
	doc *domain.Document
	err error
}

func (f *ingestFake) Upload(_ context.Context, filename, mimeType string, _ io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc := *f.doc
	doc.Filename = filename
	doc.MimeType = mimeType
	return &doc, nil
}

type starterFake struct {
	run       *domain.AnalysisRun
	startErr  error
	cancelErr error
	cancelled []string
}

func (f *starterFake) Start(_ context.Context, req ports.StartRunRequest) (*domain.AnalysisRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	run := *f.run
	run.DocumentIDs = req.DocumentIDs
	run.TaxYear = req.TaxYear
	return &run, nil
}

func (f *starterFake) Cancel(_ context.Context, runID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

type resultsFake struct {
	records  []domain.TaxRecord
	accounts []domain.ForeignAccount
	edited   *domain.TaxRecord
	err      error
}

func (f *resultsFake) Records(context.Context, string) ([]domain.TaxRecord, error) {
	return f.records, f.err
}

func (f *resultsFake) Accounts(context.Context, string) ([]domain.ForeignAccount, error) {
	return f.accounts, f.err
}

func (f *resultsFake) EditRecord(_ context.Context, _, form, code, value string) (*domain.TaxRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.edited = &domain.TaxRecord{Form: form, Code: code, Value: value, Status: domain.RecordValid, Edited: true}
	return f.edited, nil
}

type exporterFake struct {
	payload []byte
	err     error
}

func (f *exporterFake) ExportXLSX(context.Context, string) ([]byte, error) { return f.payload, f.err }
func (f *exporterFake) ExportJSON(context.Context, string) ([]byte, error) { return f.payload, f.err }

type ratesFake struct {
	table     domain.ExchangeRateTable
	updateErr error
}

func (f *ratesFake) Get(context.Context) (domain.ExchangeRateTable, error) { return f.table, nil }
func (f *ratesFake) Update(context.Context, domain.ExchangeRateTable) error {
	return f.updateErr
}

type docRepoFake struct {
	doc *domain.Document
}

func (f *docRepoFake) Create(context.Context, *domain.Document) error { return nil }
func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return f.doc, nil
}
func (f *docRepoFake) ListByIDs(context.Context, []string) ([]domain.Document, error) {
	return nil, nil
}
func (f *docRepoFake) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}

type runRepoFake struct {
	run *domain.AnalysisRun
}

func (f *runRepoFake) Create(context.Context, *domain.AnalysisRun) error { return nil }
func (f *runRepoFake) GetByID(_ context.Context, id string) (*domain.AnalysisRun, error) {
	if f.run == nil || f.run.ID != id {
		return nil, domain.WrapError(domain.ErrRunNotFound, "get run", errors.New(id))
	}
	return f.run, nil
}
func (f *runRepoFake) UpdateStatus(context.Context, string, domain.RunStatus, string) error {
	return nil
}
func (f *runRepoFake) SaveDiagnostics(context.Context, string, []domain.Diagnostic) error { return nil }
func (f *runRepoFake) AnyActive(context.Context) (bool, error)                            { return false, nil }

type routerFixture struct {
	ingest   *ingestFake
	starter  *starterFake
	results  *resultsFake
	exporter *exporterFake
	rates    *ratesFake
	docs     *docRepoFake
	runs     *runRepoFake
}

func newFixture() *routerFixture {
	return &routerFixture{
		ingest:   &ingestFake{doc: &domain.Document{ID: "d1", Status: domain.StatusUploaded}},
		starter:  &starterFake{run: &domain.AnalysisRun{ID: "run-1", Status: domain.RunPending}},
		results:  &resultsFake{},
		exporter: &exporterFake{payload: []byte(`{"2042":[]}`)},
		rates:    &ratesFake{table: domain.DefaultExchangeRates()},
		docs:     &docRepoFake{},
		runs:     &runRepoFake{run: &domain.AnalysisRun{ID: "run-1", Status: domain.RunCompleted}},
	}
}

func (f *routerFixture) handler() http.Handler {
	return NewRouter(f.ingest, f.starter, f.results, f.exporter, f.rates, f.docs, f.runs, nil, "api").Handler()
}

func TestUploadDocumentAccepted(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "fiche.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("%PDF"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var doc domain.Document
	if err := json.Unmarshal(recorder.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.Filename != "fiche.pdf" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestUploadRequiresMultipartFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestStartRunAccepted(t *testing.T) {
	payload := `{"document_ids":["d1"],"tax_year":2024,"client":{"name":"O. Dupont"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(payload))
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var run domain.AnalysisRun
	if err := json.Unmarshal(recorder.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.ID != "run-1" || run.TaxYear != 2024 {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestStartRunMapsInvalidInput(t *testing.T) {
	fixture := newFixture()
	fixture.starter.startErr = domain.WrapError(domain.ErrInvalidInput, "start run", errors.New("no documents selected"))

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{}`))
	recorder := httptest.NewRecorder()
	fixture.handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/ghost", nil)
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestCancelRun(t *testing.T) {
	fixture := newFixture()
	req := httptest.NewRequest(http.MethodDelete, "/v1/runs/run-1", nil)
	recorder := httptest.NewRecorder()
	fixture.handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if len(fixture.starter.cancelled) != 1 || fixture.starter.cancelled[0] != "run-1" {
		t.Fatalf("cancel not forwarded: %v", fixture.starter.cancelled)
	}
}

func TestListRecordsAlwaysReturnsArray(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/records", nil)
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"records":[]`) {
		t.Fatalf("expected empty array, got %s", recorder.Body.String())
	}
}

func TestEditRecordRoute(t *testing.T) {
	fixture := newFixture()
	req := httptest.NewRequest(http.MethodPut, "/v1/runs/run-1/records/2042/1AJ", strings.NewReader(`{"value":"1200"}`))
	recorder := httptest.NewRecorder()
	fixture.handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if fixture.results.edited == nil || fixture.results.edited.Form != "2042" || fixture.results.edited.Code != "1AJ" {
		t.Fatalf("edit not forwarded: %+v", fixture.results.edited)
	}
}

func TestExportJSONSetsDownloadHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/export.json", nil)
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Disposition"); !strings.Contains(got, "clickimpots_run-1.json") {
		t.Fatalf("unexpected disposition: %q", got)
	}
}

func TestUpdateRatesConflictWhileRunning(t *testing.T) {
	fixture := newFixture()
	fixture.rates.updateErr = domain.WrapError(domain.ErrRunActive, "update rates", errors.New("run in progress"))

	req := httptest.NewRequest(http.MethodPut, "/v1/rates", strings.NewReader(`{"rates":{"USD":0.9}}`))
	recorder := httptest.NewRecorder()
	fixture.handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	recorder := httptest.NewRecorder()
	newFixture().handler().ServeHTTP(recorder, req)

	if got := recorder.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id header = %q", got)
	}
}
