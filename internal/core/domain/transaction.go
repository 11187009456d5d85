package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// TypeForValue derives the canonical type from the sign of the value.
func TypeForValue(value decimal.Decimal) TransactionType {
	if value.IsNegative() {
		return TransactionExpense
	}
	return TransactionIncome
}

type Transaction struct {
	ID           string           `json:"id"`
	StatementID  string           `json:"statement_id"`
	Value        decimal.Decimal  `json:"transaction_value"`
	Description  string           `json:"description"`
	Date         time.Time        `json:"date"`
	Type         TransactionType  `json:"transaction_type"`
	BalanceAfter *decimal.Decimal `json:"balance_after_transaction"`
	Embedding    []float32        `json:"-"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TransactionCandidate is one record as returned by the extraction model.
// Every field may be missing.
type TransactionCandidate struct {
	Value        *decimal.Decimal `json:"transaction_value"`
	Description  *string          `json:"description"`
	Date         *string          `json:"date"`
	Type         *string          `json:"transaction_type"`
	BalanceAfter *decimal.Decimal `json:"balance_after_transaction"`
}

type ExtractedStatement struct {
	PreviousBalance *decimal.Decimal       `json:"previous_balance"`
	CurrentBalance  *decimal.Decimal       `json:"current_balance"`
	Candidates      []TransactionCandidate `json:"transactions"`
}

// IsEmptySentinel reports the "not a statement" answer: no balances and no records.
func (s ExtractedStatement) IsEmptySentinel() bool {
	return s.PreviousBalance == nil && s.CurrentBalance == nil && len(s.Candidates) == 0
}

var candidateDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
}

// moneyScale is the number of decimal places amounts are stored with.
const moneyScale = 2

// Normalize turns a candidate into a transaction. It returns false when any
// required field is missing, empty or unparseable.
func (c TransactionCandidate) Normalize() (Transaction, bool) {
	if c.Value == nil || c.Description == nil || c.Date == nil || c.Type == nil {
		return Transaction{}, false
	}
	description := strings.TrimSpace(*c.Description)
	rawDate := strings.TrimSpace(*c.Date)
	if description == "" || rawDate == "" || strings.TrimSpace(*c.Type) == "" {
		return Transaction{}, false
	}

	date, ok := parseCandidateDate(rawDate)
	if !ok {
		return Transaction{}, false
	}

	// Rounded to the stored scale first so the type matches the persisted sign.
	value := c.Value.Round(moneyScale)
	var balanceAfter *decimal.Decimal
	if c.BalanceAfter != nil {
		rounded := c.BalanceAfter.Round(moneyScale)
		balanceAfter = &rounded
	}

	return Transaction{
		Value:        value,
		Description:  description,
		Date:         date,
		Type:         TypeForValue(value),
		BalanceAfter: balanceAfter,
	}, true
}

func parseCandidateDate(raw string) (time.Time, bool) {
	for _, layout := range candidateDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
