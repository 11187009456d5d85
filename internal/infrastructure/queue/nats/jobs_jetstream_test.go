package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/flowcontrol"
)

func runJetStreamServer(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

// consumeInBackground runs Consume until the test ends.
func consumeInBackground(t *testing.T, q *JobQueue, handler func(context.Context, domain.Job) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Consume(ctx, handler) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Consume() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Consume did not stop")
		}
	})
}

func TestDispatchDeduplicatesByStatementID(t *testing.T) {
	ctx := context.Background()
	q, err := NewJobQueue(ctx, runJetStreamServer(t), JobQueueConfig{}, JobQueueOptions{})
	if err != nil {
		t.Fatalf("NewJobQueue() error = %v", err)
	}

	job := domain.Job{Tenant: "org-1", StatementID: "st-1", EnqueuedAt: time.Now()}
	for i := 0; i < 3; i++ {
		if err := q.Dispatch(ctx, job); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	if err := q.Dispatch(ctx, domain.Job{Tenant: "org-1", StatementID: "st-2"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", info.State.Msgs)
	}
}

func TestConsumeRunsEveryThrottledJob(t *testing.T) {
	ctx := context.Background()
	q, err := NewJobQueue(ctx, runJetStreamServer(t), JobQueueConfig{
		MaxDeliver:       2,
		JobTimeout:       5 * time.Second,
		Workers:          4,
		ProgressInterval: 50 * time.Millisecond,
	}, JobQueueOptions{Limiter: flowcontrol.NewLimiter(1)})
	if err != nil {
		t.Fatalf("NewJobQueue() error = %v", err)
	}

	ids := []string{"st-1", "st-2", "st-3", "st-4"}
	for _, id := range ids {
		if err := q.Dispatch(ctx, domain.Job{Tenant: "org-1", StatementID: id}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	var (
		running    atomic.Int32
		overlapped atomic.Bool
		mu         sync.Mutex
		handled    = make(map[string]int)
		allOnce    sync.Once
		all        = make(chan struct{})
	)
	consumeInBackground(t, q, func(_ context.Context, job domain.Job) error {
		if running.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(300 * time.Millisecond)
		running.Add(-1)

		mu.Lock()
		defer mu.Unlock()
		handled[job.StatementID]++
		if len(handled) == len(ids) {
			allOnce.Do(func() { close(all) })
		}
		return nil
	})

	select {
	case <-all:
	case <-time.After(15 * time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("throttled jobs were dropped, handled %v", handled)
	}
	if overlapped.Load() {
		t.Fatalf("tenant ran more than one job at a time")
	}
	mu.Lock()
	defer mu.Unlock()
	for id, n := range handled {
		if n != 1 {
			t.Fatalf("job %s handled %d times", id, n)
		}
	}
}

func TestConsumeRedeliversAfterHandlerError(t *testing.T) {
	ctx := context.Background()
	q, err := NewJobQueue(ctx, runJetStreamServer(t), JobQueueConfig{
		MaxDeliver: 3,
		JobTimeout: time.Second,
		RetryDelay: 50 * time.Millisecond,
	}, JobQueueOptions{})
	if err != nil {
		t.Fatalf("NewJobQueue() error = %v", err)
	}
	if err := q.Dispatch(ctx, domain.Job{Tenant: "org-1", StatementID: "st-1"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	var attempts atomic.Int32
	succeeded := make(chan struct{})
	consumeInBackground(t, q, func(context.Context, domain.Job) error {
		switch attempts.Add(1) {
		case 1:
			return errors.New("callback returned 502")
		case 2:
			close(succeeded)
		}
		return nil
	})

	select {
	case <-succeeded:
	case <-time.After(10 * time.Second):
		t.Fatalf("job was not redelivered, attempts = %d", attempts.Load())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := q.stream.Info(ctx)
		if err != nil {
			t.Fatalf("stream info: %v", err)
		}
		if info.State.Msgs == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("acked job still queued")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
