package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

func TestReplaceForStatementDeletesThenInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewTransactionRepository(db)

	now := time.Now()
	txs := []domain.Transaction{
		{ID: "tx-1", Value: decimal.RequireFromString("-4.20"), Description: "coffee", Date: now, Type: domain.TransactionIncome, Embedding: []float32{0.1, 0.2}},
		{ID: "tx-2", Value: decimal.RequireFromString("100"), Description: "salary", Date: now, Type: domain.TransactionIncome},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transactions").WithArgs("st-1").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO transactions")
	prep.ExpectExec().
		WithArgs("tx-1", "st-1", sqlmock.AnyArg(), "coffee", sqlmock.AnyArg(), "expense", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("tx-2", "st-1", sqlmock.AnyArg(), "salary", sqlmock.AnyArg(), "income", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.ReplaceForStatement(context.Background(), "st-1", txs); err != nil {
		t.Fatalf("ReplaceForStatement() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceForStatementRollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transactions").WithArgs("st-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("INSERT INTO transactions").
		ExpectExec().
		WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err = repo.ReplaceForStatement(context.Background(), "st-1", []domain.Transaction{
		{ID: "tx-1", Value: decimal.NewFromInt(1), Description: "x", Date: time.Now()},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountByStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewTransactionRepository(db)

	mock.ExpectQuery("SELECT count").WithArgs("st-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountByStatement(context.Background(), "st-1")
	if err != nil {
		t.Fatalf("CountByStatement() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
