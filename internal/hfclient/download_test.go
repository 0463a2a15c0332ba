package hfclient_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/hfclient"
)

func TestDownload_FreshTransfer(t *testing.T) {
	body := []byte("the entire gguf file contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/model/resolve/main/model.gguf" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Range") != "" {
			t.Errorf("unexpected Range header on fresh transfer: %q", r.Header.Get("Range"))
		}
		w.Write(body)
	}))
	defer srv.Close()

	c := hfclient.New(hfclient.WithBaseURL(srv.URL))
	var buf bytes.Buffer
	var lastProgress domain.DownloadProgress
	err := c.Download(t.Context(), "demo/model", "main", "model.gguf", 0, &buf, func(p domain.DownloadProgress) {
		lastProgress = p
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != string(body) {
		t.Errorf("body = %q, want %q", buf.String(), body)
	}
	if lastProgress.BytesDone != int64(len(body)) {
		t.Errorf("final BytesDone = %d, want %d", lastProgress.BytesDone, len(body))
	}
}

func TestDownload_ResumesWithRangeHeader(t *testing.T) {
	full := []byte("0123456789")
	const resumeFrom = 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Range"), "bytes=4-"; got != want {
			t.Errorf("Range header = %q, want %q", got, want)
		}
		remainder := full[resumeFrom:]
		w.Header().Set("Content-Range", "bytes 4-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(remainder)
	}))
	defer srv.Close()

	c := hfclient.New(hfclient.WithBaseURL(srv.URL))
	var buf bytes.Buffer
	err := c.Download(t.Context(), "demo/model", "main", "model.gguf", resumeFrom, &buf, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != string(full[resumeFrom:]) {
		t.Errorf("body = %q, want %q", buf.String(), full[resumeFrom:])
	}
}

func TestDownload_RangeNotSatisfiableIsAlreadyComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	c := hfclient.New(hfclient.WithBaseURL(srv.URL))
	var buf bytes.Buffer
	err := c.Download(t.Context(), "demo/model", "main", "model.gguf", 100, &buf, nil)
	if err != nil {
		t.Fatalf("Download: %v, want nil (already complete)", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %d bytes", buf.Len())
	}
}

func TestDownload_RangeIgnoredByServerIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("full body, ignoring range"))
	}))
	defer srv.Close()

	c := hfclient.New(hfclient.WithBaseURL(srv.URL))
	var buf bytes.Buffer
	err := c.Download(t.Context(), "demo/model", "main", "model.gguf", 4, &buf, nil)
	if domain.KindOf(err) != domain.KindProtocolError {
		t.Errorf("err kind = %v, want KindProtocolError", domain.KindOf(err))
	}
}
