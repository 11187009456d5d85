package httpadapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

type ingestorFake struct {
	batch domain.UploadBatch
	names []string
	err   error
}

func (f *ingestorFake) Upload(_ context.Context, batch domain.UploadBatch) (*domain.UploadResult, error) {
	f.batch = batch
	if f.err != nil {
		return nil, f.err
	}
	result := &domain.UploadResult{}
	for i, file := range batch.Files {
		raw, err := io.ReadAll(file.Body)
		if err != nil {
			return nil, err
		}
		f.names = append(f.names, file.Name+":"+string(raw))
		result.Statements = append(result.Statements, domain.Statement{
			ID:        "st-" + string(rune('1'+i)),
			ProjectID: batch.ProjectID,
			Name:      file.Name,
			Status:    domain.StatusPending,
		})
	}
	return result, nil
}

type processorFake struct {
	cmd     domain.ProcessCommand
	outcome domain.ProcessOutcome
	panics  bool
}

func (f *processorFake) Process(_ context.Context, cmd domain.ProcessCommand) domain.ProcessOutcome {
	if f.panics {
		panic("boom")
	}
	f.cmd = cmd
	return f.outcome
}

type statementsFake struct {
	statement *domain.Statement
	err       error
	deleted   []string
}

func (f *statementsFake) Get(_ context.Context, _, _, _ string) (*domain.Statement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.statement, nil
}

func (f *statementsFake) Delete(_ context.Context, _, _, statementID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, statementID)
	return nil
}

type streamerFake struct {
	events [][]byte
	tenant string
}

func (f *streamerFake) Subscribe(_ context.Context, tenant, _, _ string, emit func([]byte) error) error {
	f.tenant = tenant
	for _, e := range f.events {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

type testDeps struct {
	ingestor   *ingestorFake
	processor  *processorFake
	statements *statementsFake
	streamer   *streamerFake
}

func newTestDeps() *testDeps {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return &testDeps{
		ingestor:  &ingestorFake{},
		processor: &processorFake{outcome: domain.ProcessOutcome{Status: domain.OutcomeSuccess, Message: "Statement created"}},
		statements: &statementsFake{statement: &domain.Statement{
			ID: "st-1", ProjectID: "proj-1", Name: "june.pdf", Status: domain.StatusCompleted, CreatedAt: now, UpdatedAt: now,
		}},
		streamer: &streamerFake{},
	}
}

func (d *testDeps) handler(opts Options) http.Handler {
	return NewRouter(Services{
		Ingestor:  d.ingestor,
		Processor: d.processor,
		Reader:    d.statements,
		Remover:   d.statements,
		Streamer:  d.streamer,
	}, opts).Handler()
}

func apiRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(apiKeyHeader, "secret")
	req.Header.Set(organizationIDHeader, "org-1")
	return req
}
