package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	natsgo "github.com/nats-io/nats.go"

	"github.com/kirillkom/statement-pipeline/internal/config"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
	"github.com/kirillkom/statement-pipeline/internal/core/usecase"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/eventlog"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/flowcontrol"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/llm/openai"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/pdfinspect"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	IngestUC  ports.StatementIngestor
	ProcessUC ports.StatementProcessor
	QueryUC   *usecase.StatementQueryUseCase
	StreamUC  ports.StatusStreamer

	closeFn func()
}

type Options struct {
	ProcessObserver usecase.ProcessObserver
}

// New wires the API process: repositories, blob store, event log, job
// dispatch and the extraction engine behind the processing trigger.
func New(ctx context.Context, cfg config.Config, options Options) (*App, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}

	blobs, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("init blob store: %w", err))
	}
	closers = append(closers, closeBlobs)

	conn, err := nats.Connect(cfg.NATSURL, nats.ConnOptions{Name: "statement-pipeline-api"})
	if err != nil {
		return fail(fmt.Errorf("init nats: %w", err))
	}
	closers = append(closers, conn.Close)

	executor := NewResilienceExecutor(cfg)

	events, err := newEventLog(ctx, cfg, conn)
	if err != nil {
		return fail(fmt.Errorf("init event log: %w", err))
	}
	jobs, err := nats.NewJobQueue(ctx, conn, jobQueueConfig(cfg), nats.JobQueueOptions{ResilienceExecutor: executor})
	if err != nil {
		return fail(fmt.Errorf("init job queue: %w", err))
	}

	extractor, err := gemini.New(ctx, gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.GeminiTimeout,
	}, gemini.Options{ResilienceExecutor: executor})
	if err != nil {
		return fail(fmt.Errorf("init gemini extractor: %w", err))
	}
	openaiCfg := openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.OpenAIChatModel,
		EmbeddingModel: cfg.OpenAIEmbedModel,
		Timeout:        cfg.OpenAITimeout,
	}
	describer, err := openai.NewDescriber(openaiCfg, openai.Options{ResilienceExecutor: executor})
	if err != nil {
		return fail(fmt.Errorf("init describer: %w", err))
	}
	embedder, err := openai.NewEmbedder(openaiCfg, openai.Options{ResilienceExecutor: executor})
	if err != nil {
		return fail(fmt.Errorf("init embedder: %w", err))
	}

	projects := postgres.NewProjectRepository(db)
	statements := postgres.NewStatementRepository(db)
	transactions := postgres.NewTransactionRepository(db)
	notifier := usecase.NewStatusNotifier(events)

	engine := usecase.NewExtractionEngine(pdfinspect.New(), extractor, describer, embedder, transactions, usecase.EngineConfig{
		Locale:              cfg.DescriptionLocale,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		MaxPages:            cfg.MaxPDFPages,
	})

	return &App{
		Config: cfg,

		IngestUC: usecase.NewIngestStatementsUseCase(projects, statements, blobs, jobs, notifier, usecase.IngestLimits{
			MaxBatchFiles: cfg.MaxBatchFiles,
			MaxFileBytes:  cfg.MaxFileBytes,
		}),
		ProcessUC: usecase.NewProcessStatementUseCase(projects, statements, transactions, blobs, engine, notifier, options.ProcessObserver),
		QueryUC:   usecase.NewStatementQueryUseCase(projects, statements, blobs),
		StreamUC:  usecase.NewStatusStreamUseCase(projects, statements, events, cfg.StatusWakeInterval),

		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Worker is the queue side: it consumes jobs and hands them to the callback.
type Worker struct {
	Jobs *nats.JobQueue

	conn *natsgo.Conn
}

func NewWorker(ctx context.Context, cfg config.Config, observer nats.DeliveryObserver) (*Worker, error) {
	conn, err := nats.Connect(cfg.NATSURL, nats.ConnOptions{Name: "statement-pipeline-worker"})
	if err != nil {
		return nil, fmt.Errorf("init nats: %w", err)
	}

	jobs, err := nats.NewJobQueue(ctx, conn, jobQueueConfig(cfg), nats.JobQueueOptions{
		ResilienceExecutor: NewResilienceExecutor(cfg),
		Limiter:            flowcontrol.NewLimiter(cfg.FlowControlParallelism),
		Observer:           observer,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}
	return &Worker{Jobs: jobs, conn: conn}, nil
}

func (w *Worker) Close() {
	if w.conn != nil {
		w.conn.Close()
	}
}

func NewResilienceExecutor(cfg config.Config) *resilience.Executor {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	rc.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	rc.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return resilience.NewExecutor(rc)
}

func jobQueueConfig(cfg config.Config) nats.JobQueueConfig {
	return nats.JobQueueConfig{
		Stream:        cfg.NATSJobStream,
		SubjectPrefix: cfg.NATSJobSubjectPrefix,
		Consumer:      cfg.NATSJobConsumer,
		MaxDeliver:    cfg.JobMaxDeliver,
		JobTimeout:    cfg.JobTimeout,
		Workers:       cfg.JobWorkers,
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (ports.BlobStore, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobDriver)) {
	case "gcs":
		store, err := gcs.New(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix, Endpoint: cfg.GCSEndpoint})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "", "localfs":
		store, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
	}
}

func newEventLog(ctx context.Context, cfg config.Config, conn *natsgo.Conn) (ports.EventLog, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EventLogDriver)) {
	case "", "jetstream":
		return eventlog.NewJetStream(ctx, conn, eventlog.JetStreamConfig{
			Stream:        cfg.NATSEventStream,
			SubjectPrefix: cfg.NATSEventSubjectPrefix,
			TTL:           cfg.EventLogTTL,
		})
	case "memory":
		slog.Warn("event_log_in_memory", "detail", "status events are not shared between api instances")
		return eventlog.NewMemory(cfg.EventLogTTL), nil
	default:
		return nil, fmt.Errorf("unknown event log driver %q", cfg.EventLogDriver)
	}
}
