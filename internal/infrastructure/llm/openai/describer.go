package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

const describerPrompt = `Rewrite the bank transaction below as one short sentence that a person would use to search for it later.
Keep the direction word, the amount and the merchant or counterparty. Answer in the same language as the direction word.
Return only the sentence.`

// Describer turns a transaction line into the sentence that gets embedded.
type Describer struct {
	llm      llms.Model
	executor *resilience.Executor
}

func NewDescriber(cfg Config, options Options) (*Describer, error) {
	llm, err := newLLM(cfg.normalize(), options)
	if err != nil {
		return nil, err
	}
	return &Describer{llm: llm, executor: options.ResilienceExecutor}, nil
}

func (d *Describer) Describe(ctx context.Context, input domain.DescriptionInput) (string, error) {
	line := input.Line()
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, describerPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, line),
	}

	text, err := resilience.Call(ctx, d.executor, "openai.describe", func(callCtx context.Context) (string, error) {
		resp, err := d.llm.GenerateContent(callCtx, content, llms.WithTemperature(0), llms.WithMaxTokens(120))
		if err != nil {
			return "", fmt.Errorf("openai describe: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return strings.TrimSpace(resp.Choices[0].Content), nil
	}, classifyOpenAIError)
	if err != nil {
		return "", resilience.WrapTemporary("openai describe", err, classifyOpenAIError)
	}
	if text == "" {
		return line, nil
	}
	return text, nil
}
