package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusEvent is one entry of a statement's event log.
type StatusEvent struct {
	StatementID     string           `json:"statement_id"`
	Status          StatementStatus  `json:"status"`
	Error           string           `json:"error,omitempty"`
	CurrentBalance  *decimal.Decimal `json:"current_balance,omitempty"`
	PreviousBalance *decimal.Decimal `json:"previous_balance,omitempty"`
	At              time.Time        `json:"at"`
}
