package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/resilience"
)

type singleChunk struct{}

func (singleChunk) Split(text string) []string { return []string{text} }

type repeatingChunks struct{ n int }

func (c repeatingChunks) Split(text string) []string {
	out := make([]string, c.n)
	for i := range out {
		out[i] = text
	}
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1.0,
		BreakerEnabled:      false,
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(t *testing.T, serverURL string, chunker ports.Chunker) *Adapter {
	t.Helper()
	client := New(serverURL, "test-key", "tax-extract-1")
	return NewAdapter(client, testCatalog(t), chunker, fastExecutor(), 100, discardLogger())
}

func extractionServer(t *testing.T, output string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extract" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"output": output})
	}))
}

func TestExtractConvertsEntries(t *testing.T) {
	output := `{"entries":[
		{"form":"2042","code":"1aj","value":"30 000,50","currency":"EUR","confidence":0.9,"description":"salaires"},
		{"form":"3916","code":"8UU","value":"US","currency":"EUR","confidence":0.8,"account_group":1}
	]}`
	server := extractionServer(t, output)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, singleChunk{})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{
		DocumentID: "d1",
		Text:       "fiche de paie",
		TaxYear:    2024,
	})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	first := candidates[0]
	if first.Code != "1AJ" {
		t.Fatalf("expected normalized code 1AJ, got %q", first.Code)
	}
	if !first.Numeric || first.Amount != 30000.50 {
		t.Fatalf("expected parsed amount 30000.50, got numeric=%v amount=%v", first.Numeric, first.Amount)
	}
	if first.DocumentID != "d1" {
		t.Fatalf("candidate missing document id: %+v", first)
	}

	second := candidates[1]
	if second.Numeric {
		t.Fatalf("country code should not be numeric: %+v", second)
	}
	if second.AccountGroup != 1 {
		t.Fatalf("expected account group 1, got %d", second.AccountGroup)
	}
}

func TestExtractPromptListsCatalogCodes(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_ = json.NewEncoder(w).Encode(map[string]string{"output": `{"entries":[]}`})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, singleChunk{})
	_, err := adapter.Extract(context.Background(), ports.ExtractionRequest{
		DocumentID: "d1",
		Text:       "contenu",
		TaxYear:    2024,
		Context:    "Client moved from London in June.",
	})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	for _, want := range []string{"2042", "1AJ", "3916", "8UU", "2024", "Client moved from London"} {
		if !strings.Contains(capturedPrompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, capturedPrompt)
		}
	}
}

func TestExtractToleratesProseAroundJSON(t *testing.T) {
	output := "Here is the extraction:\n{\"entries\":[{\"form\":\"2042\",\"code\":\"1AJ\",\"value\":\"1000\",\"confidence\":0.7}]}\nDone."
	server := extractionServer(t, output)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, singleChunk{})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Amount != 1000 {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}
}

func TestExtractSkipsSchemaViolatingResponse(t *testing.T) {
	server := extractionServer(t, `{"lines":[{"form":"2042"}]}`)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, singleChunk{})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if err != nil {
		t.Fatalf("chunk failures must not surface as errors, got %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected zero candidates from the bad chunk, got %d", len(candidates))
	}
}

func TestExtractFailingServiceYieldsZeroCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, repeatingChunks{n: 2})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if err != nil {
		t.Fatalf("a dead service must not fail the document, got %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected zero candidates, got %d", len(candidates))
	}
}

func TestExtractFailedChunkKeepsOtherChunksCandidates(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		output := `{"entries":[{"form":"2042","code":"1AJ","value":"1000","confidence":0.7}]}`
		_ = json.NewEncoder(w).Encode(map[string]string{"output": output})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, repeatingChunks{n: 2})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if err != nil {
		t.Fatalf("one bad chunk must not fail the document, got %v", err)
	}
	if len(candidates) != 1 || candidates[0].Amount != 1000 {
		t.Fatalf("candidates from the good chunk lost: %+v", candidates)
	}
}

func TestExtractCancelledContextAborts(t *testing.T) {
	server := extractionServer(t, `{"entries":[]}`)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := newTestAdapter(t, server.URL, singleChunk{})
	_, err := adapter.Extract(ctx, ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtractConfidenceDefaults(t *testing.T) {
	output := `{"entries":[
		{"form":"2042","code":"1AJ","value":"100","confidence":0},
		{"form":"2042","code":"1BJ","value":"200"},
		{"form":"2047","code":"2AB","value":"300","confidence":1.5}
	]}`
	server := extractionServer(t, output)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, singleChunk{})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0].Confidence != 0 {
		t.Fatalf("explicit zero confidence must be kept, got %v", candidates[0].Confidence)
	}
	if candidates[1].Confidence != 0.5 {
		t.Fatalf("absent confidence must default to 0.5, got %v", candidates[1].Confidence)
	}
	if candidates[2].Confidence != 0.5 {
		t.Fatalf("out-of-range confidence must default to 0.5, got %v", candidates[2].Confidence)
	}
}

func TestExtractDeduplicatesAcrossOverlappingChunks(t *testing.T) {
	output := `{"entries":[{"form":"2042","code":"1AJ","value":"1000","confidence":0.6}]}`
	server := extractionServer(t, output)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, repeatingChunks{n: 3})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "x", TaxYear: 2024})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected deduplicated single candidate, got %d", len(candidates))
	}
}

func TestExtractEmptyTextShortCircuits(t *testing.T) {
	adapter := newTestAdapter(t, "http://127.0.0.1:1", singleChunk{})
	candidates, err := adapter.Extract(context.Background(), ports.ExtractionRequest{DocumentID: "d1", Text: "   ", TaxYear: 2024})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if candidates != nil {
		t.Fatalf("expected nil candidates, got %+v", candidates)
	}
}
