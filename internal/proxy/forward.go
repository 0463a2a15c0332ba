package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mrwong99/gglib/internal/domain"
)

// upstreamURL builds the llama-server URL for path on target's bound port.
func upstreamURL(target domain.RunningTarget, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", target.Port, path)
}

// postJSON sends body as a JSON POST to url and returns the raw response,
// wrapping connection failures as [domain.KindTransport] and non-2xx
// upstream statuses as [domain.KindTransport] carrying the upstream body
// as the message.
func (h *Handler) postJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.KindTransport, "connect to model server", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, domain.NewError(domain.KindTransport, fmt.Sprintf("upstream error %d: %s", resp.StatusCode, msg))
	}
	return resp, nil
}

// streamPassthrough copies an upstream Server-Sent-Events response to w
// verbatim, flushing after each line so clients observe chunks as they
// arrive rather than buffered until the connection closes.
func streamPassthrough(w http.ResponseWriter, upstream *http.Response) {
	defer upstream.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(upstream.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// readJSONBody reads and closes upstream's body, the caller is expected to
// json.Unmarshal it into the appropriate wire type.
func readJSONBody(upstream *http.Response) ([]byte, error) {
	defer upstream.Body.Close()
	b, err := io.ReadAll(upstream.Body)
	if err != nil {
		return nil, domain.WrapError(domain.KindTransport, "read upstream response", err)
	}
	return b, nil
}
