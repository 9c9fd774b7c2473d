package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/observability/metrics"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 50 << 20

type Router struct {
	ingest   ports.DocumentIngestor
	starter  ports.RunStarter
	results  ports.RunResultReader
	exporter ports.RunExporter
	rates    ports.RateService
	docs     ports.DocumentRepository
	runs     ports.RunRepository
	metrics  *metrics.HTTPServerMetrics
	service  string
}

func NewRouter(
	ingest ports.DocumentIngestor,
	starter ports.RunStarter,
	results ports.RunResultReader,
	exporter ports.RunExporter,
	rates ports.RateService,
	docs ports.DocumentRepository,
	runs ports.RunRepository,
	serverMetrics *metrics.HTTPServerMetrics,
	service string,
) *Router {
	return &Router{
		ingest:   ingest,
		starter:  starter,
		results:  results,
		exporter: exporter,
		rates:    rates,
		docs:     docs,
		runs:     runs,
		metrics:  serverMetrics,
		service:  service,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.getDocumentByID)
	mux.HandleFunc("/v1/runs", rt.startRun)
	mux.HandleFunc("/v1/runs/", rt.dispatchRun)
	mux.HandleFunc("/v1/rates", rt.handleRates)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUploadSize(rt.service, fileHeader.Size)
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) startRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		DocumentIDs []string          `json:"document_ids"`
		TaxYear     int               `json:"tax_year"`
		Client      domain.ClientInfo `json:"client"`
		Context     string            `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	run, err := rt.starter.Start(r.Context(), ports.StartRunRequest{
		DocumentIDs: req.DocumentIDs,
		TaxYear:     req.TaxYear,
		Client:      req.Client,
		Context:     req.Context,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRunStarted(rt.service)
	}

	writeJSON(w, http.StatusAccepted, run)
}

// dispatchRun routes /v1/runs/{id}[/...] by trailing path segments.
func (rt *Router) dispatchRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run id is required"})
		return
	}
	runID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		rt.cancelRun(w, r, runID)
	case len(parts) == 1:
		rt.getRun(w, r, runID)
	case len(parts) == 2 && parts[1] == "records":
		rt.listRecords(w, r, runID)
	case len(parts) == 2 && parts[1] == "accounts":
		rt.listAccounts(w, r, runID)
	case len(parts) == 4 && parts[1] == "records":
		rt.editRecord(w, r, runID, parts[2], parts[3])
	case len(parts) == 2 && parts[1] == "export.xlsx":
		rt.exportXLSX(w, r, runID)
	case len(parts) == 2 && parts[1] == "export.json":
		rt.exportJSON(w, r, runID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route"})
	}
}

func (rt *Router) getRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	run, err := rt.runs.GetByID(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) cancelRun(w http.ResponseWriter, r *http.Request, runID string) {
	if err := rt.starter.Cancel(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (rt *Router) listRecords(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	records, err := rt.results.Records(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.TaxRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (rt *Router) listAccounts(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	accounts, err := rt.results.Accounts(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []domain.ForeignAccount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (rt *Router) editRecord(w http.ResponseWriter, r *http.Request, runID, form, code string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPatch {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	record, err := rt.results.EditRecord(r.Context(), runID, form, code, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) exportXLSX(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	payload, err := rt.exporter.ExportXLSX(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordExport(rt.service, "xlsx")
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="declaration_%s.xlsx"`, runID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (rt *Router) exportJSON(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	payload, err := rt.exporter.ExportJSON(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordExport(rt.service, "json")
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="clickimpots_%s.json"`, runID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (rt *Router) handleRates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		table, err := rt.rates.Get(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, table)
	case http.MethodPut:
		var table domain.ExchangeRateTable
		if err := json.NewDecoder(r.Body).Decode(&table); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if err := rt.rates.Update(r.Context(), table); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
