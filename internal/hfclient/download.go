package hfclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
)

// progressInterval throttles how often the progress callback fires
// during a download, mirroring the event bus's own throttle for
// high-rate telemetry.
const progressInterval = 50 * time.Millisecond

// Download streams filename at revision of repoID into w, honoring
// rangeStart via a Range request to resume a partial transfer.
func (c *Client) Download(ctx context.Context, repoID, revision, filename string, rangeStart int64, w io.Writer, progress func(domain.DownloadProgress)) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repoID, revision, filename)
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "build download request", err)
	}
	if rangeStart > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
	}

	// Long transfers are bounded by ctx only, not by WithTimeout.
	client := *c.httpClient
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return domain.WrapError(domain.KindTransport, "download file", err)
	}
	defer resp.Body.Close()

	bytesDone := int64(0)
	totalBytes := resp.ContentLength

	switch resp.StatusCode {
	case http.StatusOK:
		if rangeStart > 0 {
			return domain.NewError(domain.KindProtocolError, "hub did not honor range request; restart from scratch").
				WithField("filename", filename)
		}
	case http.StatusPartialContent:
		bytesDone = rangeStart
		if total := parseContentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			totalBytes = total
		} else if resp.ContentLength >= 0 {
			totalBytes = rangeStart + resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// The file on disk already covers the full range; nothing more to
		// fetch.
		return nil
	default:
		return domain.NewError(domain.KindTransport, fmt.Sprintf("hub returned status %d", resp.StatusCode)).
			WithField("filename", filename)
	}

	pw := &progressWriter{
		dest:       w,
		filename:   filename,
		bytesDone:  bytesDone,
		totalBytes: totalBytes,
		started:    time.Now(),
		lastReport: time.Time{},
		report:     progress,
	}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return domain.WrapError(domain.KindTransport, "stream download body", err)
	}
	pw.flush()
	return nil
}

// progressWriter wraps the destination writer, forwarding every write and
// periodically invoking the progress callback.
type progressWriter struct {
	dest       io.Writer
	filename   string
	bytesDone  int64
	totalBytes int64
	started    time.Time
	lastReport time.Time
	report     func(domain.DownloadProgress)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.dest.Write(b)
	p.bytesDone += int64(n)
	if p.report != nil && time.Since(p.lastReport) >= progressInterval {
		p.flush()
	}
	return n, err
}

func (p *progressWriter) flush() {
	if p.report == nil {
		return
	}
	p.lastReport = time.Now()

	elapsed := time.Since(p.started).Seconds()
	var bps float64
	if elapsed > 0 {
		bps = float64(p.bytesDone) / elapsed
	}

	var pct float64
	var eta time.Duration
	if p.totalBytes > 0 {
		pct = float64(p.bytesDone) / float64(p.totalBytes) * 100
		if bps > 0 {
			remaining := float64(p.totalBytes - p.bytesDone)
			eta = time.Duration(remaining/bps) * time.Second
		}
	}

	p.report(domain.DownloadProgress{
		Filename:       p.filename,
		BytesDone:      p.bytesDone,
		TotalBytes:     p.totalBytes,
		BytesPerSecond: bps,
		ETA:            eta,
		Percentage:     pct,
	})
}

// parseContentRangeTotal extracts the total size from a "bytes a-b/total"
// Content-Range header value. Returns 0 if the total is absent or "*".
func parseContentRangeTotal(header string) int64 {
	if header == "" {
		return 0
	}
	idx := -1
	for i := len(header) - 1; i >= 0; i-- {
		if header[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(header) {
		return 0
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return total
}
