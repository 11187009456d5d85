package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

// StatusNotifier appends lifecycle events to the per-statement event log.
// The log is best-effort: append failures are logged and never surface to callers.
type StatusNotifier struct {
	log ports.EventLog
	now func() time.Time
}

func NewStatusNotifier(log ports.EventLog) *StatusNotifier {
	return &StatusNotifier{
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (n *StatusNotifier) Processing(ctx context.Context, statementID string) {
	n.append(ctx, domain.StatusEvent{StatementID: statementID, Status: domain.StatusProcessing})
}

func (n *StatusNotifier) Completed(ctx context.Context, statementID string, current, previous *decimal.Decimal) {
	n.append(ctx, domain.StatusEvent{
		StatementID:     statementID,
		Status:          domain.StatusCompleted,
		CurrentBalance:  current,
		PreviousBalance: previous,
	})
}

func (n *StatusNotifier) Failed(ctx context.Context, statementID, reason string) {
	n.append(ctx, domain.StatusEvent{StatementID: statementID, Status: domain.StatusFailed, Error: reason})
}

func (n *StatusNotifier) append(ctx context.Context, event domain.StatusEvent) {
	if n == nil || n.log == nil {
		return
	}
	event.At = n.now()
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("status_event_marshal_failed", "statement_id", event.StatementID, "error", err)
		return
	}
	if err := n.log.Append(ctx, event.StatementID, payload); err != nil {
		slog.Warn("status_event_append_failed",
			"statement_id", event.StatementID,
			"status", string(event.Status),
			"error", err,
		)
	}
}
