package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/bootstrap"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/config"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/observability/logging"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeRunRequested(ctx, func(handlerCtx context.Context, runID string) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()

		if run, err := app.Runs.GetByID(runCtx, runID); err == nil {
			workerMetrics.ObserveQueueLag("worker", time.Since(run.CreatedAt))
		}

		workerMetrics.StartRun()
		start := time.Now()
		analyzeErr := app.AnalyzeUC.AnalyzeByID(runCtx, runID)
		workerMetrics.FinishRun("worker", time.Since(start), analyzeErr)
		return analyzeErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
