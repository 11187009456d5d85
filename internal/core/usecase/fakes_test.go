package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

type projectRepoFake struct {
	project *domain.Project
	err     error
}

func (f *projectRepoFake) GetByID(_ context.Context, _ string, id string) (*domain.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.project == nil || f.project.ID != id {
		return nil, domain.ErrProjectNotFound
	}
	copyProject := *f.project
	return &copyProject, nil
}

func newProjectRepo(id string) *projectRepoFake {
	return &projectRepoFake{project: &domain.Project{ID: id, OrganizationID: "org-1", Name: "main"}}
}

type statementRepoFake struct {
	mu          sync.Mutex
	items       map[string]*domain.Statement
	history     map[string][]domain.StatementStatus
	createErr   error
	completeErr error
}

func newStatementRepo(statements ...*domain.Statement) *statementRepoFake {
	f := &statementRepoFake{
		items:   make(map[string]*domain.Statement),
		history: make(map[string][]domain.StatementStatus),
	}
	for _, s := range statements {
		f.items[s.ID] = s
		f.history[s.ID] = []domain.StatementStatus{s.Status}
	}
	return f
}

func (f *statementRepoFake) Create(_ context.Context, statement *domain.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyStatement := *statement
	f.items[statement.ID] = &copyStatement
	f.history[statement.ID] = []domain.StatementStatus{statement.Status}
	return nil
}

func (f *statementRepoFake) GetByID(_ context.Context, projectID, id string) (*domain.Statement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok || s.ProjectID != projectID {
		return nil, domain.ErrStatementNotFound
	}
	copyStatement := *s
	return &copyStatement, nil
}

func (f *statementRepoFake) Transition(ctx context.Context, projectID, id string, from, to domain.StatementStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok || s.ProjectID != projectID || s.Status != from || !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	s.Status = to
	s.Error = reason
	f.history[id] = append(f.history[id], to)
	return nil
}

func (f *statementRepoFake) Complete(ctx context.Context, projectID, id string, current, previous *decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	s, ok := f.items[id]
	if !ok || s.ProjectID != projectID || s.Status != domain.StatusProcessing {
		return domain.ErrInvalidTransition
	}
	s.Status = domain.StatusCompleted
	s.CurrentBalance = current
	s.PreviousBalance = previous
	f.history[id] = append(f.history[id], domain.StatusCompleted)
	return nil
}

func (f *statementRepoFake) Delete(_ context.Context, projectID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok || s.ProjectID != projectID {
		return domain.ErrStatementNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *statementRepoFake) get(id string) *domain.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

type transactionRepoFake struct {
	mu    sync.Mutex
	saved map[string][]domain.Transaction
	calls int
	err   error
}

func newTransactionRepo() *transactionRepoFake {
	return &transactionRepoFake{saved: make(map[string][]domain.Transaction)}
}

func (f *transactionRepoFake) ReplaceForStatement(ctx context.Context, statementID string, txs []domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.saved[statementID] = append([]domain.Transaction(nil), txs...)
	return nil
}

func (f *transactionRepoFake) CountByStatement(_ context.Context, statementID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved[statementID]), nil
}

type blobStoreFake struct {
	mu      sync.Mutex
	data    map[string][]byte
	putErr  error
	getErr  error
	deleted []string
}

func newBlobStore() *blobStoreFake {
	return &blobStoreFake{data: make(map[string][]byte)}
}

func (f *blobStoreFake) Put(_ context.Context, key string, r io.Reader) error {
	if f.putErr != nil {
		return f.putErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = body
	return nil
}

func (f *blobStoreFake) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.data[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return body, nil
}

func (f *blobStoreFake) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type dispatcherFake struct {
	jobs []domain.Job
	err  error
}

func (f *dispatcherFake) Dispatch(_ context.Context, job domain.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type eventLogFake struct {
	mu        sync.Mutex
	entries   map[string][][]byte
	appendErr error
	popErr    error
	released  []string
}

func newEventLog() *eventLogFake {
	return &eventLogFake{entries: make(map[string][][]byte)}
}

func (f *eventLogFake) Append(ctx context.Context, statementID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[statementID] = append(f.entries[statementID], bytes.Clone(payload))
	return nil
}

func (f *eventLogFake) Pop(ctx context.Context, statementID string, wait time.Duration) ([]byte, error) {
	if f.popErr != nil {
		return nil, f.popErr
	}
	f.mu.Lock()
	queue := f.entries[statementID]
	if len(queue) > 0 {
		head := queue[0]
		f.entries[statementID] = queue[1:]
		f.mu.Unlock()
		return head, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, ports.ErrNoEvent
	}
}

func (f *eventLogFake) Release(statementID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, statementID)
}

func (f *eventLogFake) events(statementID string) []domain.StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StatusEvent, 0, len(f.entries[statementID]))
	for _, raw := range f.entries[statementID] {
		var event domain.StatusEvent
		if err := json.Unmarshal(raw, &event); err == nil {
			out = append(out, event)
		}
	}
	return out
}

type inspectorFake struct {
	info domain.DocumentInfo
	err  error
}

func (f *inspectorFake) Inspect([]byte) (domain.DocumentInfo, error) {
	return f.info, f.err
}

type modelFake struct {
	result domain.ExtractedStatement
	err    error
	calls  int
}

func (f *modelFake) ExtractStatement(context.Context, []byte) (domain.ExtractedStatement, error) {
	f.calls++
	return f.result, f.err
}

type describerFake struct {
	inputs []domain.DescriptionInput
	err    error
}

func (f *describerFake) Describe(_ context.Context, input domain.DescriptionInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, input)
	return input.Line(), nil
}

type embedderFake struct {
	dims   int
	err    error
	failAt int
	calls  int
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil && (f.failAt == 0 || f.calls == f.failAt) {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func strPtr(v string) *string { return &v }

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func candidate(value, description, date, kind string) domain.TransactionCandidate {
	return domain.TransactionCandidate{
		Value:       decPtr(value),
		Description: strPtr(description),
		Date:        strPtr(date),
		Type:        strPtr(kind),
	}
}
