package composite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/ocr"
)

type memoryStorage struct {
	objects map[string][]byte
}

func (s *memoryStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = raw
	return nil
}

func (s *memoryStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(_ context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	if s.err != nil {
		return domain.ExtractedText{}, s.err
	}
	return domain.ExtractedText{DocumentID: doc.ID, Text: s.text, Method: "stub"}, nil
}

type stubRecognizer struct {
	result ocr.Result
	err    error
	calls  int
}

func (s *stubRecognizer) Recognize(_ context.Context, _ []byte, _ string) (ocr.Result, error) {
	s.calls++
	if s.err != nil {
		return ocr.Result{}, s.err
	}
	return s.result, nil
}

func TestCompositeRoutesPlainText(t *testing.T) {
	plaintext := &stubExtractor{text: "salaires 2024"}
	recognizer := &stubRecognizer{}
	extractor := NewExtractor(&memoryStorage{}, &stubExtractor{}, &stubExtractor{}, plaintext, recognizer)

	got, err := extractor.Extract(context.Background(), &domain.Document{ID: "d1", Filename: "notes.txt", MimeType: "text/plain"})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got.Text != "salaires 2024" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if recognizer.calls != 0 {
		t.Fatalf("ocr should not be called for plain text, got %d calls", recognizer.calls)
	}
}

func TestCompositeFallsBackToOCRForEmptyPDFTextLayer(t *testing.T) {
	storage := &memoryStorage{objects: map[string][]byte{"docs/d2.pdf": []byte("%PDF-1.4 scanned")}}
	pdf := &stubExtractor{text: "   "}
	recognizer := &stubRecognizer{result: ocr.Result{Text: "releve bancaire", Pages: 2}}
	extractor := NewExtractor(storage, pdf, &stubExtractor{}, &stubExtractor{}, recognizer)

	doc := &domain.Document{ID: "d2", Filename: "releve.pdf", MimeType: "application/pdf", StoragePath: "docs/d2.pdf"}
	got, err := extractor.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got.Method != "ocr" {
		t.Fatalf("expected ocr method, got %q", got.Method)
	}
	if got.Text != "releve bancaire" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if got.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", got.Pages)
	}
	if recognizer.calls != 1 {
		t.Fatalf("expected one ocr call, got %d", recognizer.calls)
	}
	found := false
	for _, warning := range got.Warnings {
		if strings.Contains(warning, "text layer empty") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected empty-text-layer warning, got %v", got.Warnings)
	}
}

func TestCompositeKeepsPDFTextLayerWhenPresent(t *testing.T) {
	pdf := &stubExtractor{text: "1AJ 42000"}
	recognizer := &stubRecognizer{}
	extractor := NewExtractor(&memoryStorage{}, pdf, &stubExtractor{}, &stubExtractor{}, recognizer)

	doc := &domain.Document{ID: "d3", Filename: "fiche.pdf", MimeType: "application/pdf"}
	got, err := extractor.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got.Text != "1AJ 42000" || recognizer.calls != 0 {
		t.Fatalf("expected text layer result without ocr, got text=%q calls=%d", got.Text, recognizer.calls)
	}
}

func TestCompositeSendsImagesToOCR(t *testing.T) {
	storage := &memoryStorage{objects: map[string][]byte{"docs/d4.png": {0x89, 0x50}}}
	recognizer := &stubRecognizer{result: ocr.Result{Text: "attestation", Pages: 1}}
	extractor := NewExtractor(storage, &stubExtractor{}, &stubExtractor{}, &stubExtractor{}, recognizer)

	doc := &domain.Document{ID: "d4", Filename: "scan.png", MimeType: "image/png", StoragePath: "docs/d4.png"}
	got, err := extractor.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got.Text != "attestation" || got.Method != "ocr" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestCompositeRejectsUnknownFormat(t *testing.T) {
	extractor := NewExtractor(&memoryStorage{}, &stubExtractor{}, &stubExtractor{}, &stubExtractor{}, &stubRecognizer{})

	doc := &domain.Document{ID: "d5", Filename: "archive.tar.gz", MimeType: "application/gzip"}
	_, err := extractor.Extract(context.Background(), doc)
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
}

func TestCompositeExtensionFallbackWhenMimeMissing(t *testing.T) {
	plaintext := &stubExtractor{text: "interets 120"}
	extractor := NewExtractor(&memoryStorage{}, &stubExtractor{}, &stubExtractor{}, plaintext, &stubRecognizer{})

	doc := &domain.Document{ID: "d6", Filename: "notes.md", MimeType: "application/octet-stream"}
	got, err := extractor.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got.Text != "interets 120" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
}
