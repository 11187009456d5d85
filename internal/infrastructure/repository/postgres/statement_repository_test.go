package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

func newStatementRepoWithMock(t *testing.T) (*StatementRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewStatementRepository(db), mock, func() { _ = db.Close() }
}

var statementColumns = []string{
	"id", "project_id", "name", "status", "current_balance", "previous_balance", "error_message", "created_at", "updated_at",
}

func TestStatementGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, project_id, name, status").
		WithArgs("missing", "proj-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "proj-1", "missing")
	if !domain.IsKind(err, domain.ErrStatementNotFound) {
		t.Fatalf("expected ErrStatementNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatementGetByIDScansNullableBalances(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	now := time.Now()
	mock.ExpectQuery("FROM statements").
		WithArgs("st-1", "proj-1").
		WillReturnRows(sqlmock.NewRows(statementColumns).
			AddRow("st-1", "proj-1", "jan.pdf", "completed", "120.50", nil, "", now, now))

	s, err := repo.GetByID(context.Background(), "proj-1", "st-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if s.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if s.CurrentBalance == nil || !s.CurrentBalance.Equal(decimal.RequireFromString("120.5")) {
		t.Fatalf("unexpected current balance %v", s.CurrentBalance)
	}
	if s.PreviousBalance != nil {
		t.Fatalf("expected nil previous balance, got %v", s.PreviousBalance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatementTransitionLostClaim(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE statements").
		WithArgs("st-1", "proj-1", "pending", "processing", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), "proj-1", "st-1", domain.StatusPending, domain.StatusProcessing, "")
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatementTransitionRejectsTerminalSource(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	err := repo.Transition(context.Background(), "proj-1", "st-1", domain.StatusCompleted, domain.StatusProcessing, "")
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestStatementCompleteWritesBalances(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	current := decimal.RequireFromString("10.00")
	mock.ExpectExec("UPDATE statements").
		WithArgs("st-1", "proj-1", "processing", "completed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Complete(context.Background(), "proj-1", "st-1", &current, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatementDeleteCascadesInOneTransaction(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transactions").
		WithArgs("st-1", "proj-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM statements").
		WithArgs("st-1", "proj-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Delete(context.Background(), "proj-1", "st-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatementDeleteMissingRollsBack(t *testing.T) {
	repo, mock, done := newStatementRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transactions").
		WithArgs("missing", "proj-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM statements").
		WithArgs("missing", "proj-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "proj-1", "missing")
	if !errors.Is(err, domain.ErrStatementNotFound) {
		t.Fatalf("expected ErrStatementNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProjectGetByIDScopedToTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewProjectRepository(db)
	mock.ExpectQuery("FROM projects").
		WithArgs("proj-1", "org-2").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByID(context.Background(), "org-2", "proj-1")
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
