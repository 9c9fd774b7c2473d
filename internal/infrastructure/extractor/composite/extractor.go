// Package composite routes a document to the extractor matching its
// format. PDFs whose text layer comes back empty are retried through
// OCR, which is how scanned tax statements usually arrive.
package composite

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/ocr"
)

// Recognizer is the OCR surface the composite needs.
type Recognizer interface {
	Recognize(ctx context.Context, payload []byte, mimeType string) (ocr.Result, error)
}

type Extractor struct {
	storage   ports.ObjectStorage
	pdf       ports.TextExtractor
	docx      ports.TextExtractor
	plaintext ports.TextExtractor
	ocr       Recognizer
}

func NewExtractor(storage ports.ObjectStorage, pdf, docx, plaintext ports.TextExtractor, recognizer Recognizer) *Extractor {
	return &Extractor{
		storage:   storage,
		pdf:       pdf,
		docx:      docx,
		plaintext: plaintext,
		ocr:       recognizer,
	}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	switch kind(doc) {
	case kindPDF:
		return e.extractPDF(ctx, doc)
	case kindDocx:
		return e.docx.Extract(ctx, doc)
	case kindImage:
		return e.recognize(ctx, doc, nil)
	case kindText:
		return e.plaintext.Extract(ctx, doc)
	default:
		return domain.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("unsupported document format: %s (%s)", doc.Filename, doc.MimeType))
	}
}

func (e *Extractor) extractPDF(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	extracted, err := e.pdf.Extract(ctx, doc)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	if strings.TrimSpace(extracted.Text) != "" {
		return extracted, nil
	}
	// No text layer, likely a scan.
	fallback, err := e.recognize(ctx, doc, extracted.Warnings)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	fallback.Warnings = append(fallback.Warnings, "pdf text layer empty, used ocr")
	return fallback, nil
}

func (e *Extractor) recognize(ctx context.Context, doc *domain.Document, warnings []string) (domain.ExtractedText, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("read source document: %w", err)
	}

	result, err := e.ocr.Recognize(ctx, raw, doc.MimeType)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("ocr %s: %w", doc.Filename, err)
	}
	return domain.ExtractedText{
		DocumentID: doc.ID,
		Text:       strings.TrimSpace(result.Text),
		Pages:      result.Pages,
		Method:     "ocr",
		Warnings:   warnings,
	}, nil
}

type documentKind int

const (
	kindUnknown documentKind = iota
	kindPDF
	kindDocx
	kindImage
	kindText
)

func kind(doc *domain.Document) documentKind {
	switch doc.MimeType {
	case "application/pdf":
		return kindPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindDocx
	case "image/png", "image/jpeg", "image/tiff", "image/webp":
		return kindImage
	case "text/plain", "text/csv":
		return kindText
	}
	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".pdf":
		return kindPDF
	case ".docx":
		return kindDocx
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".webp":
		return kindImage
	case ".txt", ".csv", ".md":
		return kindText
	}
	return kindUnknown
}
