package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Options struct {
	ResilienceExecutor *resilience.Executor
}

// Extractor sends a statement PDF inline to Gemini and decodes the JSON answer.
type Extractor struct {
	client   *genai.Client
	model    string
	timeout  time.Duration
	executor *resilience.Executor
}

func New(ctx context.Context, cfg Config, options Options) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Extractor{
		client:   client,
		model:    model,
		timeout:  timeout,
		executor: options.ResilienceExecutor,
	}, nil
}

func (e *Extractor) ExtractStatement(ctx context.Context, document []byte) (domain.ExtractedStatement, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: statementPrompt},
				{InlineData: &genai.Blob{MIMEType: "application/pdf", Data: document}},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}

	raw, err := resilience.Call(ctx, e.executor, "gemini.generate", func(callCtx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(callCtx, e.timeout)
		defer cancel()

		resp, err := e.client.Models.GenerateContent(callCtx, e.model, contents, config)
		if err != nil {
			return "", fmt.Errorf("gemini generate content: %w", err)
		}
		return resp.Text(), nil
	}, classifyGeminiError)
	if err != nil {
		return domain.ExtractedStatement{}, resilience.WrapTemporary("gemini generate", err, classifyGeminiError)
	}

	statement, err := decodeStatement(raw)
	if err != nil {
		slog.Warn("gemini_response_rejected", "model", e.model, "error", err)
		return domain.ExtractedStatement{}, err
	}
	return statement, nil
}

func decodeStatement(raw string) (domain.ExtractedStatement, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return domain.ExtractedStatement{}, domain.WrapError(domain.ErrInvalidInput, "decode statement", fmt.Errorf("empty model response"))
	}

	var out domain.ExtractedStatement
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return domain.ExtractedStatement{}, domain.WrapError(domain.ErrInvalidInput, "decode statement", err)
	}
	return out, nil
}

// cleanModelJSON strips markdown fences and any text around the top-level object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
