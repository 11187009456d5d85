package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrStatementNotFound   = errors.New("statement not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTemporary           = errors.New("temporary failure")
	// ErrInvalidTransition reports a conditional status update that matched no row
	// in the expected source state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrStatementNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
