package openai

import (
	"regexp"
	"strconv"

	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

// langchaingo reports HTTP failures as plain errors carrying the status code in the text.
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

func classifyOpenAIError(err error) resilience.ErrorClassification {
	if err != nil {
		if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
			code, _ := strconv.Atoi(m[1])
			return resilience.ClassifyRemote(&resilience.StatusError{Service: "openai", StatusCode: code})
		}
	}
	return resilience.ClassifyRemote(err)
}
