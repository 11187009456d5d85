package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

const defaultWakeInterval = time.Second

type StatusStreamUseCase struct {
	projects     ports.ProjectRepository
	statements   ports.StatementRepository
	events       ports.EventLog
	wakeInterval time.Duration
}

func NewStatusStreamUseCase(
	projects ports.ProjectRepository,
	statements ports.StatementRepository,
	events ports.EventLog,
	wakeInterval time.Duration,
) *StatusStreamUseCase {
	if wakeInterval <= 0 {
		wakeInterval = defaultWakeInterval
	}
	return &StatusStreamUseCase{
		projects:     projects,
		statements:   statements,
		events:       events,
		wakeInterval: wakeInterval,
	}
}

// Subscribe forwards popped events to emit in arrival order until ctx is done.
// A cancelled context ends the stream without error.
func (uc *StatusStreamUseCase) Subscribe(
	ctx context.Context,
	tenant, projectID, statementID string,
	emit func([]byte) error,
) error {
	if _, err := uc.projects.GetByID(ctx, tenant, projectID); err != nil {
		return fmt.Errorf("resolve project: %w", err)
	}
	if _, err := uc.statements.GetByID(ctx, projectID, statementID); err != nil {
		return fmt.Errorf("resolve statement: %w", err)
	}
	if releaser, ok := uc.events.(ports.EventLogReleaser); ok {
		defer releaser.Release(statementID)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, err := uc.events.Pop(ctx, statementID, uc.wakeInterval)
		switch {
		case err == nil:
			if err := emit(payload); err != nil {
				return fmt.Errorf("emit status event: %w", err)
			}
		case errors.Is(err, ports.ErrNoEvent):
		case ctx.Err() != nil:
			return nil
		default:
			return domain.WrapError(domain.ErrTemporary, "pop status event", err)
		}
	}
}
