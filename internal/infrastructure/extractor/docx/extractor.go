// Package docx extracts paragraph text from Word documents. A docx
// file is a zip archive; the text lives in word/document.xml as w:t
// runs grouped into w:p paragraphs.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("read source document: %w", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open docx archive %s: %w", doc.Filename, err)
	}

	var body io.ReadCloser
	for _, file := range archive.File {
		if file.Name == "word/document.xml" {
			body, err = file.Open()
			if err != nil {
				return domain.ExtractedText{}, fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if body == nil {
		return domain.ExtractedText{}, fmt.Errorf("docx archive %s has no word/document.xml", doc.Filename)
	}
	defer body.Close()

	text, err := paragraphs(body)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("parse document.xml: %w", err)
	}

	return domain.ExtractedText{
		DocumentID: doc.ID,
		Text:       text,
		Method:     "docx",
	}, nil
}

func paragraphs(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		builder   strings.Builder
		inTextRun bool
	)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch tok := token.(type) {
		case xml.StartElement:
			if tok.Name.Local == "t" {
				inTextRun = true
			}
		case xml.EndElement:
			switch tok.Name.Local {
			case "t":
				inTextRun = false
			case "p":
				builder.WriteString("\n")
			}
		case xml.CharData:
			if inTextRun {
				builder.Write(tok)
			}
		}
	}
	return strings.TrimSpace(builder.String()), nil
}
