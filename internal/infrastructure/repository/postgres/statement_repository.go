package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

type StatementRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewStatementRepository(db *sql.DB) *StatementRepository {
	return &StatementRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *StatementRepository) Create(ctx context.Context, s *domain.Statement) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO statements (
	id, project_id, name, status, current_balance, previous_balance, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		s.ID, s.ProjectID, s.Name, string(s.Status), nullDecimal(s.CurrentBalance), nullDecimal(s.PreviousBalance),
		s.Error, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert statement: %w", err)
	}
	return nil
}

func (r *StatementRepository) GetByID(ctx context.Context, projectID, id string) (*domain.Statement, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, project_id, name, status, current_balance, previous_balance, error_message, created_at, updated_at
FROM statements
WHERE id = $1 AND project_id = $2
`, id, projectID)

	var (
		s                 domain.Statement
		status            string
		current, previous decimal.NullDecimal
	)
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &status, &current, &previous, &s.Error, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrStatementNotFound, "get statement", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan statement: %w", err)
	}
	s.Status = domain.StatementStatus(status)
	s.CurrentBalance = decimalPtr(current)
	s.PreviousBalance = decimalPtr(previous)
	return &s, nil
}

// Transition is a compare-and-set on status. A row that is no longer in from
// yields ErrInvalidTransition and is left untouched.
func (r *StatementRepository) Transition(
	ctx context.Context,
	projectID, id string,
	from, to domain.StatementStatus,
	reason string,
) error {
	if !domain.CanTransition(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "transition statement", fmt.Errorf("%s->%s", from, to))
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE statements
SET status = $4, error_message = $5, updated_at = $6
WHERE id = $1 AND project_id = $2 AND status = $3
`, id, projectID, string(from), string(to), reason, r.now())
	if err != nil {
		return fmt.Errorf("update statement status: %w", err)
	}
	return expectOneRow(res, "transition statement", fmt.Errorf("%s->%s id=%s", from, to, id))
}

func (r *StatementRepository) Complete(ctx context.Context, projectID, id string, current, previous *decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE statements
SET status = $4, current_balance = $5, previous_balance = $6, error_message = '', updated_at = $7
WHERE id = $1 AND project_id = $2 AND status = $3
`, id, projectID, string(domain.StatusProcessing), string(domain.StatusCompleted),
		nullDecimal(current), nullDecimal(previous), r.now())
	if err != nil {
		return fmt.Errorf("complete statement: %w", err)
	}
	return expectOneRow(res, "complete statement", fmt.Errorf("id=%s", id))
}

// Delete removes a statement and its transactions in one database transaction.
func (r *StatementRepository) Delete(ctx context.Context, projectID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM transactions
WHERE statement_id IN (SELECT id FROM statements WHERE id = $1 AND project_id = $2)
`, id, projectID); err != nil {
		return fmt.Errorf("delete statement transactions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM statements WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete statement rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrStatementNotFound, "delete statement", fmt.Errorf("id=%s", id))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, operation string, detail error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrInvalidTransition, operation, detail)
	}
	return nil
}
