package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

const (
	ReasonInvalidStatement  = "Invalid statement data"
	ReasonPasswordProtected = "Password-protected PDFs are not supported"

	defaultMaxPages = 50
)

var directionLabels = map[string][2]string{
	"es": {"ingreso", "gasto"},
	"en": {"income", "expense"},
}

type EngineConfig struct {
	Locale              string
	EmbeddingDimensions int
	MaxPages            int
}

// ExtractionEngine turns one statement document into persisted transactions.
// Extract never returns an error: every failure becomes a Failed result with a reason.
type ExtractionEngine struct {
	inspector    ports.DocumentInspector
	model        ports.ExtractionModel
	describer    ports.TransactionDescriber
	embedder     ports.Embedder
	transactions ports.TransactionRepository
	cfg          EngineConfig
	now          func() time.Time
}

func NewExtractionEngine(
	inspector ports.DocumentInspector,
	model ports.ExtractionModel,
	describer ports.TransactionDescriber,
	embedder ports.Embedder,
	transactions ports.TransactionRepository,
	cfg EngineConfig,
) *ExtractionEngine {
	if _, ok := directionLabels[cfg.Locale]; !ok {
		cfg.Locale = "es"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &ExtractionEngine{
		inspector:    inspector,
		model:        model,
		describer:    describer,
		embedder:     embedder,
		transactions: transactions,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (e *ExtractionEngine) Extract(ctx context.Context, statement domain.Statement, document []byte) domain.ExtractionResult {
	if reason := e.preflight(document); reason != "" {
		return failedResult(reason)
	}

	extracted, err := e.model.ExtractStatement(ctx, document)
	if err != nil {
		slog.Warn("statement_extraction_failed", "statement_id", statement.ID, "error", err)
		if errors.Is(err, domain.ErrInvalidInput) {
			return failedResult(ReasonInvalidStatement)
		}
		return failedResult(fmt.Sprintf("extract statement: %v", err))
	}

	accepted, dropped := e.filter(statement.ID, extracted.Candidates)
	if dropped > 0 {
		slog.Info("statement_candidates_dropped", "statement_id", statement.ID, "dropped", dropped, "accepted", len(accepted))
	}

	for i := range accepted {
		vector, err := e.embed(ctx, accepted[i])
		if err != nil {
			slog.Warn("transaction_embedding_failed", "statement_id", statement.ID, "error", err)
			return failedResult(err.Error())
		}
		accepted[i].Embedding = vector
	}

	if err := e.transactions.ReplaceForStatement(ctx, statement.ID, accepted); err != nil {
		return failedResult(fmt.Sprintf("save transactions: %v", err))
	}

	return domain.ExtractionResult{
		Status:          domain.StatusCompleted,
		CurrentBalance:  extracted.CurrentBalance,
		PreviousBalance: extracted.PreviousBalance,
		Accepted:        len(accepted),
		Dropped:         dropped,
	}
}

func (e *ExtractionEngine) preflight(document []byte) string {
	if e.inspector == nil {
		return ""
	}
	info, err := e.inspector.Inspect(document)
	if err != nil {
		return ReasonInvalidStatement
	}
	if info.Encrypted {
		return ReasonPasswordProtected
	}
	if info.Pages > e.cfg.MaxPages {
		return fmt.Sprintf("Statements longer than %d pages are not supported", e.cfg.MaxPages)
	}
	return ""
}

func (e *ExtractionEngine) filter(statementID string, candidates []domain.TransactionCandidate) ([]domain.Transaction, int) {
	accepted := make([]domain.Transaction, 0, len(candidates))
	dropped := 0
	now := e.now()
	for _, candidate := range candidates {
		tx, ok := candidate.Normalize()
		if !ok {
			dropped++
			continue
		}
		tx.ID = uuid.NewString()
		tx.StatementID = statementID
		tx.CreatedAt = now
		tx.UpdatedAt = now
		accepted = append(accepted, tx)
	}
	return accepted, dropped
}

func (e *ExtractionEngine) embed(ctx context.Context, tx domain.Transaction) ([]float32, error) {
	input := domain.DescriptionInput{
		Direction:   e.direction(tx.Type),
		Amount:      tx.Value.Abs(),
		Description: tx.Description,
	}

	text := input.Line()
	if e.describer != nil {
		sentence, err := e.describer.Describe(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describe transaction: %w", err)
		}
		if sentence = strings.TrimSpace(sentence); sentence != "" {
			text = sentence
		}
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed transaction: %w", err)
	}
	if e.cfg.EmbeddingDimensions > 0 && len(vector) != e.cfg.EmbeddingDimensions {
		return nil, fmt.Errorf("embed transaction: expected %d dimensions, got %d", e.cfg.EmbeddingDimensions, len(vector))
	}
	return vector, nil
}

func (e *ExtractionEngine) direction(t domain.TransactionType) string {
	labels := directionLabels[e.cfg.Locale]
	if t == domain.TransactionExpense {
		return labels[1]
	}
	return labels[0]
}

func failedResult(reason string) domain.ExtractionResult {
	return domain.ExtractionResult{Status: domain.StatusFailed, Reason: reason}
}
