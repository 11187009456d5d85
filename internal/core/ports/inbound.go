package ports

import (
	"context"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

// StatementIngestor is the inbound contract for batch upload orchestration.
type StatementIngestor interface {
	Upload(ctx context.Context, batch domain.UploadBatch) (*domain.UploadResult, error)
}

// StatementProcessor is the inbound contract for the queue-triggered processing step.
// It never fails: every outcome is reported in the returned body.
type StatementProcessor interface {
	Process(ctx context.Context, cmd domain.ProcessCommand) domain.ProcessOutcome
}

// StatementReader is the inbound read model for statement state.
type StatementReader interface {
	Get(ctx context.Context, tenant, projectID, statementID string) (*domain.Statement, error)
}

// StatementRemover deletes a statement, its transactions and its blob.
type StatementRemover interface {
	Delete(ctx context.Context, tenant, projectID, statementID string) error
}

// StatusStreamer forwards a statement's lifecycle events to one subscriber.
type StatusStreamer interface {
	Subscribe(ctx context.Context, tenant, projectID, statementID string, emit func([]byte) error) error
}
