package httpadapter

import (
	"net/http"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal failure details from clients.
func publicErrorMessage(err error, status int) string {
	switch {
	case domain.IsKind(err, domain.ErrProjectNotFound):
		return "Project not found"
	case domain.IsKind(err, domain.ErrStatementNotFound):
		return "Statement not found"
	case status == http.StatusServiceUnavailable:
		return "Service temporarily unavailable"
	case status >= 500:
		return "Internal error"
	default:
		return err.Error()
	}
}
