package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

// ProjectRepository resolves projects inside a tenant.
type ProjectRepository interface {
	GetByID(ctx context.Context, tenant, id string) (*domain.Project, error)
}

// StatementRepository persists statement state. Every mutation is scoped to the owning project.
type StatementRepository interface {
	Create(ctx context.Context, statement *domain.Statement) error
	GetByID(ctx context.Context, projectID, id string) (*domain.Statement, error)
	// Transition moves a statement from one status to another only if it is still in from.
	Transition(ctx context.Context, projectID, id string, from, to domain.StatementStatus, reason string) error
	// Complete moves a processing statement to completed and stores its balances.
	Complete(ctx context.Context, projectID, id string, current, previous *decimal.Decimal) error
	// Delete removes the statement together with its transactions.
	Delete(ctx context.Context, projectID, id string) error
}

// TransactionRepository persists extracted transactions.
type TransactionRepository interface {
	// ReplaceForStatement swaps the statement's transactions for txs atomically.
	ReplaceForStatement(ctx context.Context, statementID string, txs []domain.Transaction) error
	CountByStatement(ctx context.Context, statementID string) (int, error)
}

// BlobStore stores uploaded source documents.
type BlobStore interface {
	Put(ctx context.Context, key string, data io.Reader) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// JobDispatcher publishes processing jobs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job domain.Job) error
}

// JobHandler processes one delivered job. A non-nil error asks the queue to redeliver.
type JobHandler func(ctx context.Context, job domain.Job) error

// JobConsumer delivers queued jobs to a handler until ctx is done.
type JobConsumer interface {
	Consume(ctx context.Context, handler JobHandler) error
}

// ExtractionModel turns a statement document into structured records.
type ExtractionModel interface {
	ExtractStatement(ctx context.Context, document []byte) (domain.ExtractedStatement, error)
}

// DocumentInspector reads structural properties of an uploaded document.
type DocumentInspector interface {
	Inspect(document []byte) (domain.DocumentInfo, error)
}

// TransactionDescriber writes the short natural-language sentence that gets embedded.
type TransactionDescriber interface {
	Describe(ctx context.Context, input domain.DescriptionInput) (string, error)
}

// Embedder builds vectors for transaction descriptions.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ErrNoEvent is returned by EventLog.Pop when nothing arrived within the wait.
var ErrNoEvent = errors.New("no event")

// EventLog is the ephemeral per-statement event list.
type EventLog interface {
	// Append adds payload at the tail and refreshes the key's TTL.
	Append(ctx context.Context, statementID string, payload []byte) error
	// Pop removes and returns the head entry, waiting at most wait.
	Pop(ctx context.Context, statementID string, wait time.Duration) ([]byte, error)
}

// EventLogReleaser is implemented by event logs that hold per-subscriber
// handles. Release drops the local handle once a subscriber is gone; queued
// events are kept.
type EventLogReleaser interface {
	Release(statementID string)
}
