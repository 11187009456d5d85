package openai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/kirillkom/statement-pipeline/internal/infrastructure/resilience"
)

type Embedder struct {
	embedder embeddings.Embedder
	executor *resilience.Executor
}

func NewEmbedder(cfg Config, options Options) (*Embedder, error) {
	llm, err := newLLM(cfg.normalize(), options)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Embedder{embedder: embedder, executor: options.ResilienceExecutor}, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := resilience.Call(ctx, e.executor, "openai.embed", func(callCtx context.Context) ([]float32, error) {
		v, err := e.embedder.EmbedQuery(callCtx, text)
		if err != nil {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		return v, nil
	}, classifyOpenAIError)
	if err != nil {
		return nil, resilience.WrapTemporary("openai embed", err, classifyOpenAIError)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("openai embed: empty embedding result")
	}
	return vector, nil
}
