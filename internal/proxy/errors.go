package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/mrwong99/gglib/internal/domain"
)

// statusFor maps a [domain.Kind] to the HTTP status code the proxy reports
// it with; kinds not listed here are reported as 500.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindResourceGone:
		return http.StatusGone
	case domain.KindValidationFailed:
		return http.StatusBadRequest
	case domain.KindQueueFull:
		return http.StatusTooManyRequests
	case domain.KindAlreadyRunning:
		return http.StatusConflict
	case domain.KindModelLoading:
		return http.StatusServiceUnavailable
	case domain.KindSpawnFailed, domain.KindHealthCheckFailed, domain.KindTransport, domain.KindProtocolError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// retryable reports whether a caller that receives this kind of failure
// should be told to retry (via a Retry-After header). A swap already in
// progress is the canonical retryable case: the caller's own request will
// likely succeed moments later once the in-flight swap completes.
func retryable(kind domain.Kind) bool {
	switch kind {
	case domain.KindModelLoading, domain.KindQueueFull:
		return true
	default:
		return false
	}
}

// writeOpenAIError writes err as an OpenAI-format error response, deriving
// the status code and errType from err's [domain.Kind] when err carries
// one.
func writeOpenAIError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	if retryable(kind) {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, statusFor(kind), NewErrorResponse(err.Error(), kind.String()))
}

// writeOllamaError writes err as Ollama's single-field error envelope.
func writeOllamaError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if retryable(kind) {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ollamaError(err.Error()))
}

// writeJSON encodes v as JSON with the given status code, matching the
// health package's own response-writing helper.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
