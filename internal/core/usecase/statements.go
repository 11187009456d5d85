package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

type StatementQueryUseCase struct {
	projects   ports.ProjectRepository
	statements ports.StatementRepository
	blobs      ports.BlobStore
}

func NewStatementQueryUseCase(
	projects ports.ProjectRepository,
	statements ports.StatementRepository,
	blobs ports.BlobStore,
) *StatementQueryUseCase {
	return &StatementQueryUseCase{projects: projects, statements: statements, blobs: blobs}
}

func (uc *StatementQueryUseCase) Get(ctx context.Context, tenant, projectID, statementID string) (*domain.Statement, error) {
	if _, err := uc.projects.GetByID(ctx, tenant, projectID); err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	statement, err := uc.statements.GetByID(ctx, projectID, statementID)
	if err != nil {
		return nil, fmt.Errorf("get statement: %w", err)
	}
	return statement, nil
}

// Delete removes the blob first, then the statement and its transactions.
func (uc *StatementQueryUseCase) Delete(ctx context.Context, tenant, projectID, statementID string) error {
	if _, err := uc.Get(ctx, tenant, projectID, statementID); err != nil {
		return err
	}
	if err := uc.blobs.Delete(ctx, domain.BlobKey(tenant, projectID, statementID)); err != nil {
		slog.Warn("statement_blob_delete_failed", "statement_id", statementID, "error", err)
	}
	if err := uc.statements.Delete(ctx, projectID, statementID); err != nil {
		return fmt.Errorf("delete statement: %w", err)
	}
	slog.Info("statement_deleted", "statement_id", statementID, "project_id", projectID)
	return nil
}
