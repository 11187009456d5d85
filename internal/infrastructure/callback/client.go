package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

const (
	HeaderAPIKey         = "X-Api-Key"
	HeaderOrganizationID = "X-Organization-Id"
)

// Client delivers queued jobs to the processing-trigger endpoint. Only a 2xx
// answer acknowledges a job; anything else leaves it for redelivery.
type Client struct {
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
	HTTPClient         *http.Client
}

func New(apiKey string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

// Deliver returns the trigger's outcome body. A non-2xx answer is an error.
func (c *Client) Deliver(ctx context.Context, job domain.Job) (domain.ProcessOutcome, error) {
	if strings.TrimSpace(job.CallbackURL) == "" {
		return domain.ProcessOutcome{}, errors.New("callback url is empty")
	}

	outcome, err := resilience.Call(ctx, c.executor, "callback.deliver", func(callCtx context.Context) (domain.ProcessOutcome, error) {
		return c.post(callCtx, job)
	}, resilience.ClassifyRemote)
	if err != nil {
		return domain.ProcessOutcome{}, resilience.WrapTemporary("callback deliver", err, resilience.ClassifyRemote)
	}
	return outcome, nil
}

func (c *Client) post(ctx context.Context, job domain.Job) (domain.ProcessOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return domain.ProcessOutcome{}, fmt.Errorf("create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set(HeaderOrganizationID, job.Tenant)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ProcessOutcome{}, fmt.Errorf("callback request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ProcessOutcome{}, &resilience.StatusError{
			Service:    "callback",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	var outcome domain.ProcessOutcome
	if len(bytes.TrimSpace(body)) > 0 {
		_ = json.Unmarshal(body, &outcome)
	}
	return outcome, nil
}
