package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
)

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, content := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		header.Set("Content-Type", "application/pdf")
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestDeps().handler(Options{APIKey: "secret"})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUploadStatementsSuccess(t *testing.T) {
	deps := newTestDeps()
	handler := deps.handler(Options{APIKey: "secret"})

	body, contentType := multipartBody(t, map[string]string{"june.pdf": "%PDF-1.4"})
	req := apiRequest(http.MethodPost, "http://localhost:8080/api/projects/proj-1/statements", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp struct {
		Status     string             `json:"status"`
		Message    string             `json:"message"`
		Statements []domain.Statement `json:"statements"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" || resp.Message != "Statements uploaded" || len(resp.Statements) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	batch := deps.ingestor.batch
	if batch.Tenant != "org-1" || batch.ProjectID != "proj-1" {
		t.Fatalf("unexpected batch scope %+v", batch)
	}
	if batch.CallbackBaseURL != "http://localhost:8080" {
		t.Fatalf("expected localhost callback over http, got %q", batch.CallbackBaseURL)
	}
	if len(deps.ingestor.names) != 1 || deps.ingestor.names[0] != "june.pdf:%PDF-1.4" {
		t.Fatalf("unexpected files %v", deps.ingestor.names)
	}
	if batch.Files[0].ContentType != "application/pdf" {
		t.Fatalf("expected part content type, got %q", batch.Files[0].ContentType)
	}
}

func TestUploadStatementsCallbackBaseURL(t *testing.T) {
	cases := []struct {
		name   string
		public string
		target string
		want   string
	}{
		{name: "remote host", target: "http://api.example.com/api/projects/proj-1/statements", want: "https://api.example.com"},
		{name: "configured", public: "https://hooks.example.com", target: "http://localhost/api/projects/proj-1/statements", want: "https://hooks.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestDeps()
			handler := deps.handler(Options{APIKey: "secret", PublicBaseURL: tc.public})

			body, contentType := multipartBody(t, map[string]string{"a.pdf": "x"})
			req := apiRequest(http.MethodPost, tc.target, body)
			req.Header.Set("Content-Type", contentType)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if deps.ingestor.batch.CallbackBaseURL != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, deps.ingestor.batch.CallbackBaseURL)
			}
		})
	}
}

func TestUploadStatementsMissingFiles(t *testing.T) {
	handler := newTestDeps().handler(Options{APIKey: "secret"})

	req := apiRequest(http.MethodPost, "/api/projects/proj-1/statements", bytes.NewBufferString("plain"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadStatementsMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{err: domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("too many files")), code: http.StatusBadRequest},
		{err: domain.WrapError(domain.ErrProjectNotFound, "resolve project", errors.New("id=proj-1")), code: http.StatusNotFound},
		{err: domain.WrapError(domain.ErrTemporary, "dispatch", errors.New("nats down")), code: http.StatusServiceUnavailable},
		{err: errors.New("disk full"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		deps := newTestDeps()
		deps.ingestor.err = tc.err
		handler := deps.handler(Options{APIKey: "secret"})

		body, contentType := multipartBody(t, map[string]string{"a.pdf": "x"})
		req := apiRequest(http.MethodPost, "/api/projects/proj-1/statements", body)
		req.Header.Set("Content-Type", contentType)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		if res.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, res.Code)
		}
		if tc.code == http.StatusInternalServerError && strings.Contains(res.Body.String(), "disk full") {
			t.Fatalf("internal error details must not leak: %s", res.Body.String())
		}
	}
}

func TestAuthHeaders(t *testing.T) {
	handler := newTestDeps().handler(Options{APIKey: "secret"})
	cases := []struct {
		name   string
		apiKey string
		org    string
		code   int
	}{
		{name: "missing key", org: "org-1", code: http.StatusBadRequest},
		{name: "wrong key", apiKey: "nope", org: "org-1", code: http.StatusForbidden},
		{name: "missing organization", apiKey: "secret", code: http.StatusBadRequest},
		{name: "valid", apiKey: "secret", org: "org-1", code: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-1/statements/st-1", nil)
			if tc.apiKey != "" {
				req.Header.Set(apiKeyHeader, tc.apiKey)
			}
			if tc.org != "" {
				req.Header.Set(organizationIDHeader, tc.org)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, res.Code)
			}
		})
	}
}

func TestProcessStatementAlwaysReturns200(t *testing.T) {
	deps := newTestDeps()
	deps.processor.outcome = domain.ProcessOutcome{Status: domain.OutcomeError, Message: "Statement not found"}
	handler := deps.handler(Options{APIKey: "secret"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodPost, "/api/projects/proj-1/statements/st-9", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var outcome domain.ProcessOutcome
	if err := json.NewDecoder(res.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Status != domain.OutcomeError || outcome.Message != "Statement not found" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	want := domain.ProcessCommand{Tenant: "org-1", ProjectID: "proj-1", StatementID: "st-9"}
	if deps.processor.cmd != want {
		t.Fatalf("unexpected command %+v", deps.processor.cmd)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	deps := newTestDeps()
	deps.processor.panics = true
	handler := deps.handler(Options{APIKey: "secret"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodPost, "/api/projects/proj-1/statements/st-1", nil))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
}

func TestGetStatement(t *testing.T) {
	deps := newTestDeps()
	handler := deps.handler(Options{APIKey: "secret"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodGet, "/api/projects/proj-1/statements/st-1", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got domain.Statement
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode statement: %v", err)
	}
	if got.ID != "st-1" || got.Status != domain.StatusCompleted {
		t.Fatalf("unexpected statement %+v", got)
	}

	deps.statements.err = domain.WrapError(domain.ErrStatementNotFound, "get statement", errors.New("id=st-1"))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodGet, "/api/projects/proj-1/statements/st-1", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Statement not found") {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestDeleteStatement(t *testing.T) {
	deps := newTestDeps()
	handler := deps.handler(Options{APIKey: "secret"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodDelete, "/api/projects/proj-1/statements/st-1", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != `{"status":"success"}` {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
	if len(deps.statements.deleted) != 1 || deps.statements.deleted[0] != "st-1" {
		t.Fatalf("unexpected deletes %v", deps.statements.deleted)
	}
}

func TestStreamStatusWritesServerSentEvents(t *testing.T) {
	deps := newTestDeps()
	deps.streamer.events = [][]byte{
		[]byte(`{"statement_id":"st-1","status":"processing"}`),
		[]byte(`{"statement_id":"st-1","status":"completed"}`),
	}
	handler := deps.handler(Options{APIKey: "secret"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodGet, "/api/projects/proj-1/statements/st-1/events/status", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := "data: {\"statement_id\":\"st-1\",\"status\":\"processing\"}\n\n" +
		"data: {\"statement_id\":\"st-1\",\"status\":\"completed\"}\n\n"
	if res.Body.String() != want {
		t.Fatalf("unexpected stream body %q", res.Body.String())
	}
	if deps.streamer.tenant != "org-1" {
		t.Fatalf("expected tenant to reach the stream, got %q", deps.streamer.tenant)
	}
}

func TestStreamStatusUnknownStatement(t *testing.T) {
	deps := newTestDeps()
	deps.statements.err = domain.WrapError(domain.ErrStatementNotFound, "get statement", errors.New("id=st-1"))
	handler := deps.handler(Options{APIKey: "secret"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, apiRequest(http.MethodGet, "/api/projects/proj-1/statements/st-1/events/status", nil))

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}
