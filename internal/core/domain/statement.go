package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StatementStatus string

const (
	StatusPending    StatementStatus = "pending"
	StatusProcessing StatementStatus = "processing"
	StatusCompleted  StatementStatus = "completed"
	StatusFailed     StatementStatus = "failed"
)

func (s StatementStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s StatementStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a statement may move from one status to another.
// pending->failed is only taken when a rejected upload is recorded.
func CanTransition(from, to StatementStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Statement struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	Name            string           `json:"name"`
	Status          StatementStatus  `json:"status"`
	CurrentBalance  *decimal.Decimal `json:"current_balance"`
	PreviousBalance *decimal.Decimal `json:"previous_balance"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// BlobKey addresses the uploaded document of a statement in the blob store.
func BlobKey(tenant, projectID, statementID string) string {
	return tenant + "/" + projectID + "/" + statementID
}
