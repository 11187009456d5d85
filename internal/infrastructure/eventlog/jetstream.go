package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

const DefaultTTL = 30 * time.Minute

type JetStreamConfig struct {
	Stream        string
	SubjectPrefix string
	TTL           time.Duration
}

func (c JetStreamConfig) normalize() JetStreamConfig {
	out := c
	if out.Stream == "" {
		out.Stream = "STATEMENT_EVENTS"
	}
	if out.SubjectPrefix == "" {
		out.SubjectPrefix = "statements.events"
	}
	out.SubjectPrefix = strings.TrimSuffix(out.SubjectPrefix, ".")
	if out.TTL <= 0 {
		out.TTL = DefaultTTL
	}
	return out
}

// JetStream keeps one subject per statement on a work-queue stream. MaxAge
// bounds how long an unread event survives, and a per-statement consumer is
// dropped by the server after TTL of inactivity. Concurrent subscribers to the
// same statement share that consumer, so each event is delivered once. The
// local consumer handle lives only while a subscriber is reading.
type JetStream struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    JetStreamConfig

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

func NewJetStream(ctx context.Context, conn *nats.Conn, cfg JetStreamConfig) (*JetStream, error) {
	cfg = cfg.normalize()

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.MemoryStorage,
		MaxAge:    cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure event stream %s: %w", cfg.Stream, err)
	}

	return &JetStream{
		js:        js,
		stream:    stream,
		cfg:       cfg,
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

func (l *JetStream) Append(ctx context.Context, statementID string, payload []byte) error {
	if _, err := l.js.Publish(ctx, l.subject(statementID), payload); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

func (l *JetStream) Pop(ctx context.Context, statementID string, wait time.Duration) ([]byte, error) {
	consumer, err := l.consumer(ctx, statementID)
	if err != nil {
		return nil, err
	}

	msg, err := consumer.Next(jetstream.FetchMaxWait(wait))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, ports.ErrNoEvent
		case errors.Is(err, jetstream.ErrConsumerNotFound), errors.Is(err, jetstream.ErrConsumerDeleted):
			l.Release(statementID)
			return nil, ports.ErrNoEvent
		default:
			return nil, fmt.Errorf("fetch status event: %w", err)
		}
	}

	if err := msg.Ack(); err != nil {
		return nil, fmt.Errorf("ack status event: %w", err)
	}
	return msg.Data(), nil
}

func (l *JetStream) consumer(ctx context.Context, statementID string) (jetstream.Consumer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.consumers[statementID]; ok {
		return c, nil
	}
	c, err := l.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:           consumerName(statementID),
		FilterSubject:     l.subject(statementID),
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: l.cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure status consumer: %w", err)
	}
	l.consumers[statementID] = c
	return c, nil
}

// Release drops the cached consumer handle. The durable consumer stays on the
// server until its inactivity threshold, so a later Pop picks up where this
// one stopped.
func (l *JetStream) Release(statementID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.consumers, statementID)
}

func (l *JetStream) subject(statementID string) string {
	return l.cfg.SubjectPrefix + "." + sanitize(statementID)
}

func consumerName(statementID string) string {
	return "status-" + sanitize(statementID)
}

func sanitize(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r', '/', '\\':
			return '_'
		default:
			return r
		}
	}, v)
}
