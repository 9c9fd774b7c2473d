package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusExtracted  DocumentStatus = "extracted"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ExtractedText is the plain-text rendering of one document, produced by the
// loader layer before chunking.
type ExtractedText struct {
	DocumentID string   `json:"document_id"`
	Text       string   `json:"text"`
	Pages      int      `json:"pages,omitempty"`
	Method     string   `json:"method"`
	Warnings   []string `json:"warnings,omitempty"`
}
