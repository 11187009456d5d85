package httpadapter

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// streamStatus relays the statement's lifecycle events as server-sent events
// until the client disconnects.
func (rt *Router) streamStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenant := tenantFromContext(r.Context())
	projectID, statementID := vars["project_id"], vars["statement_id"]

	// Resolve first so a missing statement still gets a JSON error.
	if _, err := rt.services.Reader.Get(r.Context(), tenant, projectID, statementID); err != nil {
		rt.writeError(w, r, "status_stream_failed", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}
	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if rt.opts.Metrics != nil {
		rt.opts.Metrics.StreamOpened()
		defer rt.opts.Metrics.StreamClosed()
	}

	err := rt.services.Streamer.Subscribe(r.Context(), tenant, projectID, statementID, func(payload []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		slog.Warn("status_stream_closed",
			"request_id", requestIDFromContext(r.Context()),
			"statement_id", statementID,
			"error", err,
		)
	}
}
