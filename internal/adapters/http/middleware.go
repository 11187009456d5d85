package httpadapter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader      = "X-Request-Id"
	apiKeyHeader         = "X-Api-Key"
	organizationIDHeader = "X-Organization-Id"

	statusStreamSuffix = "/events/status"
)

type requestIDContextKey struct{}
type tenantContextKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

func tenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantContextKey{}).(string)
	return tenant
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		r = r.WithContext(ctx)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		remoteAddr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteAddr = host
		}

		logAttrs := []any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", remoteAddr,
			"organization_id", r.Header.Get(organizationIDHeader),
		}

		switch {
		case recorder.statusCode >= 500:
			slog.Error("http_request", logAttrs...)
		case recorder.statusCode >= 400:
			slog.Warn("http_request", logAttrs...)
		default:
			slog.Info("http_request", logAttrs...)
		}
	})
}

// rateLimitMiddleware keeps one token bucket per caller: the organization
// header when present, the remote host otherwise. A non-positive rps disables it.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	buckets := newCallerBuckets(rate.Limit(rps), burst, 10*time.Minute)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !buckets.allow(rateLimitKey(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if tenant := strings.TrimSpace(r.Header.Get(organizationIDHeader)); tenant != "" {
		return "org:" + tenant
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type callerBuckets struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	buckets   map[string]*callerBucket
	lastSweep time.Time
}

func newCallerBuckets(limit rate.Limit, burst int, idle time.Duration) *callerBuckets {
	return &callerBuckets{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		buckets: make(map[string]*callerBucket),
	}
}

func (b *callerBuckets) allow(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) > b.idle {
		for k, bucket := range b.buckets {
			if now.Sub(bucket.lastSeen) > b.idle {
				delete(b.buckets, k)
			}
		}
		b.lastSweep = now
	}

	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &callerBucket{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.buckets[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// backpressureMiddleware bounds concurrent requests. A request that cannot get
// a slot within wait is rejected with 503. A non-positive maxInFlight disables it.
// Status streams are exempt: they stay open for as long as the client listens.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isStatusStream(r) {
			next.ServeHTTP(w, r)
			return
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case slots <- struct{}{}:
		case <-timer.C:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server overloaded"})
			return
		case <-r.Context().Done():
			return
		}
		defer func() { <-slots }()

		next.ServeHTTP(w, r)
	})
}

func isStatusStream(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, statusStreamSuffix)
}

// tenantMiddleware checks the shared API key and resolves the tenant header.
func tenantMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				provided := strings.TrimSpace(r.Header.Get(apiKeyHeader))
				if provided == "" {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + apiKeyHeader + " header"})
					return
				}
				if provided != apiKey {
					writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
					return
				}
			}

			tenant := strings.TrimSpace(r.Header.Get(organizationIDHeader))
			if tenant == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + organizationIDHeader + " header"})
				return
			}

			ctx := context.WithValue(r.Context(), tenantContextKey{}, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
