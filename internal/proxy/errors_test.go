package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mrwong99/gglib/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		kind domain.Kind
		want int
	}{
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindResourceGone, http.StatusGone},
		{domain.KindValidationFailed, http.StatusBadRequest},
		{domain.KindQueueFull, http.StatusTooManyRequests},
		{domain.KindAlreadyRunning, http.StatusConflict},
		{domain.KindModelLoading, http.StatusServiceUnavailable},
		{domain.KindTransport, http.StatusBadGateway},
		{domain.KindProtocolError, http.StatusBadGateway},
		{domain.KindHealthCheckFailed, http.StatusBadGateway},
		{domain.KindSpawnFailed, http.StatusBadGateway},
		{domain.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.kind); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(domain.KindModelLoading) {
		t.Error("KindModelLoading should be retryable")
	}
	if !retryable(domain.KindQueueFull) {
		t.Error("KindQueueFull should be retryable")
	}
	if retryable(domain.KindNotFound) {
		t.Error("KindNotFound should not be retryable")
	}
}

func TestWriteOpenAIError_SetsRetryAfterBeforeStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOpenAIError(rec, domain.NewError(domain.KindModelLoading, "swap in progress"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Header().Get("Retry-After") != "5" {
		t.Errorf("Retry-After = %q, want 5", rec.Header().Get("Retry-After"))
	}
}
