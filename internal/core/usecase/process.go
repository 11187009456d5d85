package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

const (
	msgStatementCreated    = "Statement created"
	msgStatementFailed     = "Statement failed"
	msgProjectNotFound     = "Project not found"
	msgStatementNotFound   = "Statement not found"
	msgStatementProcessing = "Statement already processing"
	msgInternalError       = "Internal error"
)

// settleTimeout bounds the terminal writes, which run detached from the
// caller so a dropped callback cannot strand a statement in processing.
const settleTimeout = 30 * time.Second

// StatementExtractor runs the extraction pipeline for one claimed statement.
type StatementExtractor interface {
	Extract(ctx context.Context, statement domain.Statement, document []byte) domain.ExtractionResult
}

// ProcessObserver receives processing metrics. It may be nil.
type ProcessObserver interface {
	StartStatement()
	FinishStatement(outcome domain.OutcomeStatus, duration time.Duration)
}

type ProcessStatementUseCase struct {
	projects     ports.ProjectRepository
	statements   ports.StatementRepository
	transactions ports.TransactionRepository
	blobs        ports.BlobStore
	extractor    StatementExtractor
	notifier     *StatusNotifier
	observer     ProcessObserver
}

func NewProcessStatementUseCase(
	projects ports.ProjectRepository,
	statements ports.StatementRepository,
	transactions ports.TransactionRepository,
	blobs ports.BlobStore,
	extractor StatementExtractor,
	notifier *StatusNotifier,
	observer ProcessObserver,
) *ProcessStatementUseCase {
	return &ProcessStatementUseCase{
		projects:     projects,
		statements:   statements,
		transactions: transactions,
		blobs:        blobs,
		extractor:    extractor,
		notifier:     notifier,
		observer:     observer,
	}
}

func (uc *ProcessStatementUseCase) Process(ctx context.Context, cmd domain.ProcessCommand) domain.ProcessOutcome {
	started := time.Now()
	if uc.observer != nil {
		uc.observer.StartStatement()
	}

	outcome := uc.process(ctx, cmd)

	if uc.observer != nil {
		uc.observer.FinishStatement(outcome.Status, time.Since(started))
	}
	return outcome
}

func (uc *ProcessStatementUseCase) process(ctx context.Context, cmd domain.ProcessCommand) domain.ProcessOutcome {
	if _, err := uc.projects.GetByID(ctx, cmd.Tenant, cmd.ProjectID); err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			return errorOutcome(msgProjectNotFound)
		}
		slog.Error("statement_process_lookup_failed", "project_id", cmd.ProjectID, "error", err)
		return errorOutcome(msgInternalError)
	}

	statement, err := uc.statements.GetByID(ctx, cmd.ProjectID, cmd.StatementID)
	if err != nil {
		if errors.Is(err, domain.ErrStatementNotFound) {
			return errorOutcome(msgStatementNotFound)
		}
		slog.Error("statement_process_lookup_failed", "statement_id", cmd.StatementID, "error", err)
		return errorOutcome(msgInternalError)
	}

	if statement.Status.IsTerminal() {
		return domain.ProcessOutcome{
			Status:  domain.OutcomeSkipped,
			Message: fmt.Sprintf("Statement already %s", statement.Status),
		}
	}

	if err := uc.claim(ctx, statement); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return domain.ProcessOutcome{Status: domain.OutcomeSkipped, Message: msgStatementProcessing}
		}
		slog.Error("statement_claim_failed", "statement_id", statement.ID, "error", err)
		return errorOutcome(msgInternalError)
	}
	uc.notifier.Processing(ctx, statement.ID)

	result, err := uc.run(ctx, cmd.Tenant, statement)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err != nil {
		return uc.fail(settleCtx, cmd.Tenant, statement, err.Error())
	}
	if result.Status == domain.StatusFailed {
		return uc.fail(settleCtx, cmd.Tenant, statement, result.Reason)
	}

	if err := uc.statements.Complete(settleCtx, statement.ProjectID, statement.ID, result.CurrentBalance, result.PreviousBalance); err != nil {
		return uc.fail(settleCtx, cmd.Tenant, statement, fmt.Sprintf("complete statement: %v", err))
	}
	uc.notifier.Completed(settleCtx, statement.ID, result.CurrentBalance, result.PreviousBalance)

	slog.Info("statement_completed",
		"statement_id", statement.ID,
		"project_id", statement.ProjectID,
		"accepted", result.Accepted,
		"dropped", result.Dropped,
	)
	return domain.ProcessOutcome{Status: domain.OutcomeSuccess, Message: msgStatementCreated}
}

// claim is the pending to processing compare-and-set. Only one caller wins it.
func (uc *ProcessStatementUseCase) claim(ctx context.Context, statement *domain.Statement) error {
	if statement.Status != domain.StatusPending {
		return domain.WrapError(domain.ErrInvalidTransition, "claim statement",
			fmt.Errorf("status is %s", statement.Status))
	}
	if err := uc.statements.Transition(ctx, statement.ProjectID, statement.ID, domain.StatusPending, domain.StatusProcessing, ""); err != nil {
		return err
	}
	statement.Status = domain.StatusProcessing
	return nil
}

func (uc *ProcessStatementUseCase) run(ctx context.Context, tenant string, statement *domain.Statement) (domain.ExtractionResult, error) {
	document, err := uc.blobs.Get(ctx, domain.BlobKey(tenant, statement.ProjectID, statement.ID))
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("load statement blob: %w", err)
	}
	return uc.extractor.Extract(ctx, *statement, document), nil
}

func (uc *ProcessStatementUseCase) fail(ctx context.Context, tenant string, statement *domain.Statement, reason string) domain.ProcessOutcome {
	slog.Warn("statement_processing_failed", "statement_id", statement.ID, "project_id", statement.ProjectID, "reason", reason)

	if err := uc.statements.Transition(ctx, statement.ProjectID, statement.ID, domain.StatusProcessing, domain.StatusFailed, reason); err != nil {
		slog.Error("statement_mark_failed_error", "statement_id", statement.ID, "error", err)
	}
	// A failed completion can follow an already committed transaction write.
	if uc.transactions != nil {
		if err := uc.transactions.ReplaceForStatement(ctx, statement.ID, nil); err != nil {
			slog.Warn("statement_transactions_clear_failed", "statement_id", statement.ID, "error", err)
		}
	}
	if err := uc.blobs.Delete(ctx, domain.BlobKey(tenant, statement.ProjectID, statement.ID)); err != nil {
		slog.Warn("statement_blob_delete_failed", "statement_id", statement.ID, "error", err)
	}
	uc.notifier.Failed(ctx, statement.ID, reason)

	return errorOutcome(msgStatementFailed)
}

func errorOutcome(message string) domain.ProcessOutcome {
	return domain.ProcessOutcome{Status: domain.OutcomeError, Message: message}
}
