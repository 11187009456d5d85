package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// GetByID resolves a project only inside the caller's organization.
func (r *ProjectRepository) GetByID(ctx context.Context, tenant, id string) (*domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, organization_id, name, created_at, updated_at
FROM projects
WHERE id = $1 AND organization_id = $2
`, id, tenant)

	var project domain.Project
	err := row.Scan(&project.ID, &project.OrganizationID, &project.Name, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrProjectNotFound, "get project", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &project, nil
}
