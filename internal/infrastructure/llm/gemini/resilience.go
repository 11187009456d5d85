package gemini

import (
	"errors"

	"google.golang.org/genai"

	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

// classifyGeminiError maps API errors onto resilience.StatusError so that
// 429 and 5xx answers are retried like any other remote call.
func classifyGeminiError(err error) resilience.ErrorClassification {
	if code, ok := apiStatusCode(err); ok {
		return resilience.ClassifyRemote(&resilience.StatusError{Service: "gemini", StatusCode: code})
	}
	return resilience.ClassifyRemote(err)
}

func apiStatusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}
