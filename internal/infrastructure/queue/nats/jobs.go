package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/flowcontrol"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

// JobQueueConfig tunes the job stream and its consumer. ProgressInterval is how
// often a delivery waiting for a slot tells the server it is still in progress;
// it must stay below the ack wait.
type JobQueueConfig struct {
	Stream           string
	SubjectPrefix    string
	Consumer         string
	MaxDeliver       int
	JobTimeout       time.Duration
	Workers          int
	RetryDelay       time.Duration
	ProgressInterval time.Duration
}

func (c JobQueueConfig) normalize() JobQueueConfig {
	out := c
	if out.Stream == "" {
		out.Stream = "STATEMENT_JOBS"
	}
	if out.SubjectPrefix == "" {
		out.SubjectPrefix = "statements.jobs"
	}
	out.SubjectPrefix = strings.TrimSuffix(out.SubjectPrefix, ".")
	if out.Consumer == "" {
		out.Consumer = "statement-workers"
	}
	if out.MaxDeliver <= 0 {
		out.MaxDeliver = 5
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = 5 * time.Minute
	}
	if out.Workers <= 0 {
		out.Workers = 8
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.ProgressInterval <= 0 {
		out.ProgressInterval = 15 * time.Second
	}
	return out
}

// DeliveryObserver receives worker-side metrics. It may be nil.
type DeliveryObserver interface {
	ObserveQueueLag(lag time.Duration)
	StartDelivery()
	FinishDelivery(duration time.Duration, err error)
	Throttled()
}

// JobQueue publishes statement jobs to a JetStream work-queue stream and
// delivers them to a handler under a per-tenant flow-control ceiling. A job
// over the ceiling waits in the worker for a slot; throttling never spends the
// consumer's MaxDeliver budget.
type JobQueue struct {
	js       jetstream.JetStream
	stream   jetstream.Stream
	cfg      JobQueueConfig
	executor *resilience.Executor
	limiter  *flowcontrol.Limiter
	observer DeliveryObserver
	workers  chan struct{}
}

type JobQueueOptions struct {
	ResilienceExecutor *resilience.Executor
	Limiter            *flowcontrol.Limiter
	Observer           DeliveryObserver
}

func NewJobQueue(ctx context.Context, conn *nats.Conn, cfg JobQueueConfig, options JobQueueOptions) (*JobQueue, error) {
	cfg = cfg.normalize()

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
		MaxAge:     24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure job stream %s: %w", cfg.Stream, err)
	}

	return &JobQueue{
		js:       js,
		stream:   stream,
		cfg:      cfg,
		executor: options.ResilienceExecutor,
		limiter:  options.Limiter,
		observer: options.Observer,
		workers:  make(chan struct{}, cfg.Workers),
	}, nil
}

func (q *JobQueue) Dispatch(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := &nats.Msg{Subject: jobSubject(q.cfg.SubjectPrefix, job.Tenant), Data: payload}

	err = q.executor.Execute(ctx, "nats.publish", func(callCtx context.Context) error {
		// Statement id doubles as the message id so a retried publish is deduplicated.
		if _, err := q.js.PublishMsg(callCtx, msg, jetstream.WithMsgID(job.StatementID)); err != nil {
			return fmt.Errorf("jetstream publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	if err != nil {
		return wrapTemporaryIfNeeded("nats publish", err)
	}
	return nil
}

// Consume delivers jobs to handler until ctx is done. A handler error naks the
// message for redelivery; MaxDeliver bounds those retries. MaxAckPending bounds
// how many deliveries wait for a slot at once.
func (q *JobQueue) Consume(ctx context.Context, handler ports.JobHandler) error {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.cfg.Consumer,
		FilterSubject: q.cfg.SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.JobTimeout + 30*time.Second,
		MaxDeliver:    q.cfg.MaxDeliver,
		MaxAckPending: q.cfg.Workers * 4,
	})
	if err != nil {
		return fmt.Errorf("ensure job consumer %s: %w", q.cfg.Consumer, err)
	}

	var wg sync.WaitGroup
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.handle(ctx, msg, handler)
		}()
	})
	if err != nil {
		return fmt.Errorf("start job consumer: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	wg.Wait()
	return nil
}

// delivery is the part of jetstream.Msg the worker needs.
type delivery interface {
	Data() []byte
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	InProgress() error
	Term() error
}

func (q *JobQueue) handle(ctx context.Context, msg delivery, handler ports.JobHandler) {
	var job domain.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.StatementID == "" {
		slog.Error("job_decode_failed", "error", err)
		_ = msg.Term()
		return
	}

	// Tenant slot first, so jobs held back by their tenant do not sit on
	// worker slots other tenants could use.
	if q.limiter != nil {
		if !q.limiter.TryAcquire(job.Tenant) {
			if q.observer != nil {
				q.observer.Throttled()
			}
			err := q.await(ctx, msg, func(waitCtx context.Context) error {
				return q.limiter.Acquire(waitCtx, job.Tenant)
			})
			if err != nil {
				_ = msg.Nak()
				return
			}
		}
		defer q.limiter.Release(job.Tenant)
	}
	if q.workers != nil {
		if err := q.await(ctx, msg, q.acquireWorker); err != nil {
			_ = msg.Nak()
			return
		}
		defer func() { <-q.workers }()
	}

	started := time.Now()
	if q.observer != nil {
		q.observer.StartDelivery()
		if !job.EnqueuedAt.IsZero() {
			q.observer.ObserveQueueLag(started.Sub(job.EnqueuedAt))
		}
	}

	handlerCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	err := handler(handlerCtx, job)
	cancel()

	if q.observer != nil {
		q.observer.FinishDelivery(time.Since(started), err)
	}
	if err != nil {
		slog.Warn("job_delivery_failed",
			"statement_id", job.StatementID,
			"tenant", job.Tenant,
			"error", err,
		)
		if errors.Is(ctx.Err(), context.Canceled) {
			_ = msg.Nak()
			return
		}
		_ = msg.NakWithDelay(q.cfg.RetryDelay)
		return
	}

	if err := msg.Ack(); err != nil {
		slog.Warn("job_ack_failed", "statement_id", job.StatementID, "error", err)
	}
}

// await retries acquire in rounds of ProgressInterval and marks the delivery in
// progress between rounds, so its ack deadline never lapses while it waits.
func (q *JobQueue) await(ctx context.Context, msg delivery, acquire func(context.Context) error) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, q.cfg.ProgressInterval)
		err := acquire(waitCtx)
		cancel()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}
		if err := msg.InProgress(); err != nil {
			slog.Warn("job_in_progress_failed", "error", err)
		}
	}
}

func (q *JobQueue) acquireWorker(ctx context.Context) error {
	select {
	case q.workers <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func jobSubject(prefix, tenant string) string {
	return prefix + "." + subjectToken(tenant)
}

// subjectToken makes an arbitrary tenant id safe to use as one subject token.
func subjectToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		default:
			return r
		}
	}, v)
}
