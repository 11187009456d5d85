package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/statement-pipeline/internal/adapters/http"
	"github.com/kirillkom/statement-pipeline/internal/bootstrap"
	"github.com/kirillkom/statement-pipeline/internal/config"
	"github.com/kirillkom/statement-pipeline/internal/observability/logging"
	"github.com/kirillkom/statement-pipeline/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("statement-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverMetrics := metrics.NewHTTPServerMetrics("statement-api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{ProcessObserver: serverMetrics})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(httpadapter.Services{
		Ingestor:  app.IngestUC,
		Processor: app.ProcessUC,
		Reader:    app.QueryUC,
		Remover:   app.QueryUC,
		Streamer:  app.StreamUC,
	}, httpadapter.Options{
		APIKey:           cfg.APIKey,
		PublicBaseURL:    cfg.PublicBaseURL,
		MaxBatchFiles:    cfg.MaxBatchFiles,
		MaxFileBytes:     cfg.MaxFileBytes,
		RateLimitRPS:     cfg.APIRateLimitRPS,
		RateLimitBurst:   cfg.APIRateLimitBurst,
		MaxInFlight:      cfg.APIMaxInFlight,
		BackpressureWait: cfg.APIBackpressureWait,
		Metrics:          serverMetrics,
	}).Handler()

	// No WriteTimeout: the trigger runs a whole extraction and the status
	// stream is long-lived. Both bound themselves through their contexts.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
