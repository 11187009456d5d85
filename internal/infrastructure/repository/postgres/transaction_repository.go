package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ReplaceForStatement deletes the statement's transactions and inserts txs in
// a single database transaction, so a repeated run never duplicates rows.
func (r *TransactionRepository) ReplaceForStatement(ctx context.Context, statementID string, txs []domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transactions tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE statement_id = $1`, statementID); err != nil {
		return fmt.Errorf("clear statement transactions: %w", err)
	}

	if len(txs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO transactions (
	id, statement_id, transaction_value, description, transaction_date, transaction_type,
	balance_after_transaction, embedding, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`)
		if err != nil {
			return fmt.Errorf("prepare insert transaction: %w", err)
		}
		defer stmt.Close()

		for _, t := range txs {
			var embedding any
			if len(t.Embedding) > 0 {
				embedding = pgvector.NewVector(t.Embedding)
			}
			if _, err := stmt.ExecContext(ctx,
				t.ID, statementID, t.Value, t.Description, t.Date,
				string(domain.TypeForValue(t.Value)), nullDecimal(t.BalanceAfter), embedding, t.CreatedAt, t.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transactions tx: %w", err)
	}
	return nil
}

func (r *TransactionRepository) CountByStatement(ctx context.Context, statementID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions WHERE statement_id = $1`, statementID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}
