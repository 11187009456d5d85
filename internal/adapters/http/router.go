package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"

	"github.com/kirillkom/statement-pipeline/internal/core/domain"
	"github.com/kirillkom/statement-pipeline/internal/core/ports"
)

// Metrics is the optional Prometheus surface of the API.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	RecordUpload(statements []domain.Statement)
	StreamOpened()
	StreamClosed()
}

type Services struct {
	Ingestor  ports.StatementIngestor
	Processor ports.StatementProcessor
	Reader    ports.StatementReader
	Remover   ports.StatementRemover
	Streamer  ports.StatusStreamer
}

type Options struct {
	APIKey           string
	PublicBaseURL    string
	MaxBatchFiles    int
	MaxFileBytes     int64
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	Metrics          Metrics
}

type Router struct {
	services Services
	opts     Options
}

func NewRouter(services Services, opts Options) *Router {
	if opts.MaxBatchFiles <= 0 {
		opts.MaxBatchFiles = 12
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 10 << 20
	}
	if opts.BackpressureWait <= 0 {
		opts.BackpressureWait = 250 * time.Millisecond
	}
	return &Router{services: services, opts: opts}
}

func (rt *Router) Handler() http.Handler {
	router := mux.NewRouter()
	if rt.opts.Metrics != nil {
		router.Use(rt.opts.Metrics.Middleware)
		router.Handle("/metrics", rt.opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", rt.healthz).Methods(http.MethodGet)

	api := router.PathPrefix("/api/projects/{project_id}/statements").Subrouter()
	api.Use(tenantMiddleware(rt.opts.APIKey))
	api.HandleFunc("", rt.uploadStatements).Methods(http.MethodPost)
	api.HandleFunc("/{statement_id}", rt.processStatement).Methods(http.MethodPost)
	api.HandleFunc("/{statement_id}", rt.getStatement).Methods(http.MethodGet)
	api.HandleFunc("/{statement_id}", rt.deleteStatement).Methods(http.MethodDelete)
	api.HandleFunc("/{statement_id}/events/status", rt.streamStatus).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)

	recovery := negroni.NewRecovery()
	recovery.PrintStack = false
	n := negroni.New(recovery)
	n.UseHandler(handler)
	return n
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadStatements(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]

	// Bound the whole body; per-file limits are enforced by the use case.
	maxBody := int64(rt.opts.MaxBatchFiles+1)*rt.opts.MaxFileBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	files := make([]domain.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot read uploaded file " + fh.Filename})
			return
		}
		defer f.Close()
		files = append(files, domain.UploadFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	result, err := rt.services.Ingestor.Upload(r.Context(), domain.UploadBatch{
		Tenant:          tenantFromContext(r.Context()),
		ProjectID:       projectID,
		CallbackBaseURL: rt.callbackBaseURL(r),
		Files:           files,
	})
	if err != nil {
		rt.writeError(w, r, "upload_statements_failed", err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordUpload(result.Statements)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"message":    "Statements uploaded",
		"statements": result.Statements,
	})
}

// processStatement is the queue callback. It always answers 200 so the
// outcome body, not the status code, tells the caller what happened.
func (rt *Router) processStatement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	outcome := rt.services.Processor.Process(r.Context(), domain.ProcessCommand{
		Tenant:      tenantFromContext(r.Context()),
		ProjectID:   vars["project_id"],
		StatementID: vars["statement_id"],
	})
	writeJSON(w, http.StatusOK, outcome)
}

func (rt *Router) getStatement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	statement, err := rt.services.Reader.Get(r.Context(), tenantFromContext(r.Context()), vars["project_id"], vars["statement_id"])
	if err != nil {
		rt.writeError(w, r, "get_statement_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (rt *Router) deleteStatement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := rt.services.Remover.Delete(r.Context(), tenantFromContext(r.Context()), vars["project_id"], vars["statement_id"]); err != nil {
		rt.writeError(w, r, "delete_statement_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// callbackBaseURL prefers the configured public URL. Otherwise it is derived
// from the request host, using plain http only for localhost.
func (rt *Router) callbackBaseURL(r *http.Request) string {
	if base := strings.TrimSpace(rt.opts.PublicBaseURL); base != "" {
		return base
	}
	host := r.Host
	scheme := "https"
	if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
		scheme = "http"
	}
	return scheme + "://" + host
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, event string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error(event,
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(err, status)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
