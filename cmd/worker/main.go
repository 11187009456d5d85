package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/statement-pipeline/internal/bootstrap"
	"github.com/kirillkom/statement-pipeline/internal/config"
	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/callback"
	"github.com/kirillkom/statement-pipeline/internal/observability/logging"
	"github.com/kirillkom/statement-pipeline/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("statement-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("statement-worker")
	worker, err := bootstrap.NewWorker(ctx, cfg, workerMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()

	client := callback.New(cfg.APIKey, callback.Options{
		Timeout:            cfg.CallbackTimeout,
		ResilienceExecutor: bootstrap.NewResilienceExecutor(cfg),
	})

	logger.Info("worker_consuming", "stream", cfg.NATSJobStream, "consumer", cfg.NATSJobConsumer)
	err = worker.Jobs.Consume(ctx, func(jobCtx context.Context, job domain.Job) error {
		outcome, err := client.Deliver(jobCtx, job)
		if err != nil {
			return err
		}
		logger.Info("job_delivered",
			"statement_id", job.StatementID,
			"tenant", job.Tenant,
			"outcome", outcome.Status,
			"message", outcome.Message,
		)
		return nil
	})
	if err != nil {
		logger.Error("worker_consume_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
