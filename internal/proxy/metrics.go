package proxy

import (
	"net/http"

	"github.com/mrwong99/gglib/internal/observe"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler, mirroring observe.Middleware's own
// recorder since that one is unexported.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps next so every request records a proxy.requests count
// (route, status) and, for 4xx/5xx responses, a proxy.errors count (route,
// kind). A nil metrics disables instrumentation entirely.
func instrument(m *observe.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path

		status := "ok"
		if rec.statusCode >= 400 {
			status = "error"
			m.RecordProxyError(r.Context(), route, errorKind(rec.statusCode))
		}
		m.RecordProxyRequest(r.Context(), route, status)
	})
}

// errorKind classifies an HTTP status code into a coarse metric label.
func errorKind(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= 500:
		return "internal"
	default:
		return "bad_request"
	}
}
