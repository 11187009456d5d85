package domain

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type UploadBatch struct {
	Tenant          string
	ProjectID       string
	CallbackBaseURL string
	Files           []UploadFile
}

type UploadResult struct {
	Statements []Statement `json:"statements"`
}

// Job is the queue message that asks the processing trigger to run one statement.
type Job struct {
	Tenant      string    `json:"tenant"`
	ProjectID   string    `json:"project_id"`
	StatementID string    `json:"statement_id"`
	CallbackURL string    `json:"callback_url"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type ProcessCommand struct {
	Tenant      string
	ProjectID   string
	StatementID string
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// ProcessOutcome is the body returned to the queue callback.
type ProcessOutcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// ExtractionResult is what the extraction engine reports back to the invoker.
type ExtractionResult struct {
	Status          StatementStatus
	CurrentBalance  *decimal.Decimal
	PreviousBalance *decimal.Decimal
	Accepted        int
	Dropped         int
	Reason          string
}

type DocumentInfo struct {
	Pages     int
	Encrypted bool
}

type DescriptionInput struct {
	Direction   string
	Amount      decimal.Decimal
	Description string
}

// Line is the plain direction, amount and description text a transaction is described from.
func (in DescriptionInput) Line() string {
	return fmt.Sprintf("%s %s: %s", in.Direction, in.Amount.StringFixed(2), in.Description)
}
