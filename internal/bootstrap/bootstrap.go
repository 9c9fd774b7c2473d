// Package bootstrap wires the concrete infrastructure into the use cases.
// Both binaries (api and worker) build from the same App so the wiring can
// never drift between them.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/config"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/usecase"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/chunking"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/extractor/composite"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/extractor/docx"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/extractor/pdftext"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/extractor/plaintext"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/llm/extraction"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/ocr"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/queue/nats"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/repository/postgres"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/resilience"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/infrastructure/storage/localfs"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Catalog *catalog.Catalog

	Queue ports.MessageQueue
	Docs  ports.DocumentRepository
	Runs  ports.RunRepository

	IngestUC  ports.DocumentIngestor
	StartUC   ports.RunStarter
	AnalyzeUC ports.RunAnalyzer
	ResultUC  ports.RunResultReader
	ExportUC  ports.RunExporter
	RateUC    ports.RateService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("load form catalog: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	docs := postgres.NewDocumentRepository(db)
	runs := postgres.NewRunRepository(db)
	candidates := postgres.NewCandidateRepository(db)
	records := postgres.NewRecordRepository(db)
	rates := postgres.NewRateRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ocrClient := ocr.New(cfg.OCRURL, cfg.OCRLanguage)
	loader := composite.NewExtractor(
		storage,
		pdftext.NewExtractor(storage),
		docx.NewExtractor(storage),
		plaintext.NewExtractor(storage),
		ocrClient,
	)

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractionClient := extraction.New(cfg.ExtractionURL, cfg.ExtractionAPIKey, cfg.ExtractionModel)
	candidateExtractor := extraction.NewAdapter(extractionClient, cat, chunker, executor, cfg.ExtractionRPS, logger)

	ingestUC := usecase.NewIngestDocumentUseCase(docs, storage)
	startUC := usecase.NewStartRunUseCase(runs, docs, rates, queue, cfg.TaxYear)
	analyzeUC := usecase.NewAnalyzeRunUseCase(runs, docs, candidates, records, loader, candidateExtractor, cat, cfg.ExtractWorkers, logger)
	resultUC := usecase.NewRunResultUseCase(runs, records, cat)
	exportUC := usecase.NewExportRunUseCase(runs, records, cat)
	rateUC := usecase.NewRateUseCase(rates, runs)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Catalog: cat,

		Queue: queue,
		Docs:  docs,
		Runs:  runs,

		IngestUC:  ingestUC,
		StartUC:   startUC,
		AnalyzeUC: analyzeUC,
		ResultUC:  resultUC,
		ExportUC:  exportUC,
		RateUC:    rateUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
