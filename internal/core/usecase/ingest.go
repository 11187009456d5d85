package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

const (
	AcceptedContentType = "application/pdf"

	defaultMaxBatchFiles = 12
	defaultMaxFileBytes  = 10 << 20
)

type IngestLimits struct {
	MaxBatchFiles int
	MaxFileBytes  int64
}

type IngestStatementsUseCase struct {
	projects   ports.ProjectRepository
	statements ports.StatementRepository
	blobs      ports.BlobStore
	dispatcher ports.JobDispatcher
	notifier   *StatusNotifier
	limits     IngestLimits
}

func NewIngestStatementsUseCase(
	projects ports.ProjectRepository,
	statements ports.StatementRepository,
	blobs ports.BlobStore,
	dispatcher ports.JobDispatcher,
	notifier *StatusNotifier,
	limits IngestLimits,
) *IngestStatementsUseCase {
	if limits.MaxBatchFiles <= 0 {
		limits.MaxBatchFiles = defaultMaxBatchFiles
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = defaultMaxFileBytes
	}
	return &IngestStatementsUseCase{
		projects:   projects,
		statements: statements,
		blobs:      blobs,
		dispatcher: dispatcher,
		notifier:   notifier,
		limits:     limits,
	}
}

func (uc *IngestStatementsUseCase) Upload(ctx context.Context, batch domain.UploadBatch) (*domain.UploadResult, error) {
	if len(batch.Files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload statements", errors.New("at least one file is required"))
	}
	if len(batch.Files) > uc.limits.MaxBatchFiles {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"upload statements",
			fmt.Errorf("at most %d files are allowed", uc.limits.MaxBatchFiles),
		)
	}

	project, err := uc.projects.GetByID(ctx, batch.Tenant, batch.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}

	result := &domain.UploadResult{Statements: make([]domain.Statement, 0, len(batch.Files))}
	for _, file := range batch.Files {
		statement, err := uc.ingestFile(ctx, batch, project, file)
		if err != nil {
			return nil, err
		}
		result.Statements = append(result.Statements, *statement)
	}
	return result, nil
}

func (uc *IngestStatementsUseCase) ingestFile(
	ctx context.Context,
	batch domain.UploadBatch,
	project *domain.Project,
	file domain.UploadFile,
) (*domain.Statement, error) {
	name := statementName(file.Name)

	if reason := uc.rejectReason(file); reason != "" {
		statement := newStatement(project.ID, name, domain.StatusFailed)
		statement.Error = reason
		if err := uc.statements.Create(ctx, statement); err != nil {
			return nil, fmt.Errorf("create failed statement: %w", err)
		}
		uc.notifier.Failed(ctx, statement.ID, reason)
		slog.Info("statement_rejected", "statement_id", statement.ID, "project_id", project.ID, "reason", reason)
		return statement, nil
	}

	statement := newStatement(project.ID, name, domain.StatusPending)
	if err := uc.statements.Create(ctx, statement); err != nil {
		return nil, fmt.Errorf("create statement: %w", err)
	}

	key := domain.BlobKey(batch.Tenant, project.ID, statement.ID)
	if err := uc.blobs.Put(ctx, key, file.Body); err != nil {
		return nil, fmt.Errorf("save statement blob: %w", err)
	}

	job := domain.Job{
		Tenant:      batch.Tenant,
		ProjectID:   project.ID,
		StatementID: statement.ID,
		CallbackURL: CallbackURL(batch.CallbackBaseURL, project.ID, statement.ID),
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := uc.dispatcher.Dispatch(ctx, job); err != nil {
		return nil, fmt.Errorf("dispatch processing job: %w", err)
	}
	slog.Info("statement_queued", "statement_id", statement.ID, "project_id", project.ID, "tenant", batch.Tenant)
	return statement, nil
}

func (uc *IngestStatementsUseCase) rejectReason(file domain.UploadFile) string {
	if file.ContentType != AcceptedContentType {
		return "Only PDF files are allowed"
	}
	if file.Size > uc.limits.MaxFileBytes {
		return "File size must be less than " + sizeLabel(uc.limits.MaxFileBytes)
	}
	return ""
}

// sizeLabel prints a byte limit in the largest whole unit that divides it.
func sizeLabel(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// CallbackURL is the processing-trigger address for one statement.
func CallbackURL(baseURL, projectID, statementID string) string {
	return fmt.Sprintf("%s/api/projects/%s/statements/%s", strings.TrimRight(baseURL, "/"), projectID, statementID)
}

func newStatement(projectID, name string, status domain.StatementStatus) *domain.Statement {
	now := time.Now().UTC()
	return &domain.Statement{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func statementName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == "/" {
		return "statement.pdf"
	}
	return base
}
