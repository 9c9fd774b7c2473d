package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

func TestUploadStoresAndRegistersDocument(t *testing.T) {
	repo := newDocumentRepoFake()
	storage := newStorageFake()
	uc := NewIngestDocumentUseCase(repo, storage)

	doc, err := uc.Upload(context.Background(), "fiche de paie.pdf", "application/pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("new document status = %s", doc.Status)
	}
	if !strings.HasSuffix(doc.StoragePath, "fiche_de_paie.pdf") {
		t.Fatalf("unexpected storage path: %s", doc.StoragePath)
	}
	if _, ok := storage.objects[doc.StoragePath]; !ok {
		t.Fatal("document bytes not saved")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one created document, got %d", len(repo.created))
	}
}

func TestUploadRequiresFilename(t *testing.T) {
	uc := NewIngestDocumentUseCase(newDocumentRepoFake(), newStorageFake())

	_, err := uc.Upload(context.Background(), "  ", "application/pdf", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUploadPropagatesStorageFailure(t *testing.T) {
	storage := newStorageFake()
	storage.saveErr = errors.New("disk full")
	repo := newDocumentRepoFake()
	uc := NewIngestDocumentUseCase(repo, storage)

	_, err := uc.Upload(context.Background(), "doc.pdf", "application/pdf", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.created) != 0 {
		t.Fatal("document must not be registered when storage write fails")
	}
}
