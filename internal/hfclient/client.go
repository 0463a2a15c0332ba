// Package hfclient implements [ports.HFClient] against the public
// HuggingFace Hub REST API: repository resolution, fuzzy search, and
// resumable file download.
package hfclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

const defaultBaseURL = "https://huggingface.co"

var _ ports.HFClient = (*Client)(nil)

// Client is a [ports.HFClient] backed by the HuggingFace Hub REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option is a functional option for [New].
type Option func(*Client)

// WithBaseURL overrides the default Hub base URL, for testing against a
// local fixture server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithToken sets a bearer token sent with every request, required for
// gated or private repositories.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets a per-request HTTP timeout. Does not apply to
// Download, which instead relies on ctx cancellation for long transfers.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New constructs a Hub client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// hubModelInfo is the subset of the Hub's model-info JSON this client
// needs: the resolved commit sha and the file listing.
type hubModelInfo struct {
	ID       string `json:"id"`
	SHA      string `json:"sha"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
		Size      int64  `json:"size"`
	} `json:"siblings"`
	Tags []string `json:"tags"`
}

// ResolveRepo resolves repoID to its current "main" revision, files, and
// tags. When quantization is non-empty, only files whose name contains it
// (case-insensitive) are returned.
func (c *Client) ResolveRepo(ctx context.Context, repoID, quantization string) (ports.ResolvedRepo, error) {
	url := fmt.Sprintf("%s/api/models/%s", c.baseURL, repoID)
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return ports.ResolvedRepo{}, domain.WrapError(domain.KindInternal, "build resolve request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.ResolvedRepo{}, domain.WrapError(domain.KindTransport, "resolve repository", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.ResolvedRepo{}, domain.NewError(domain.KindNotFound, "repository not found").WithField("repo_id", repoID)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.ResolvedRepo{}, domain.NewError(domain.KindTransport, fmt.Sprintf("hub returned status %d", resp.StatusCode)).WithField("repo_id", repoID)
	}

	var info hubModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ports.ResolvedRepo{}, domain.WrapError(domain.KindProtocolError, "decode hub model info", err)
	}

	files := make([]ports.RepoFile, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if quantization != "" && !strings.Contains(strings.ToUpper(s.RFilename), strings.ToUpper(quantization)) {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(s.RFilename), ".gguf") {
			continue
		}
		files = append(files, ports.RepoFile{Filename: s.RFilename, OID: info.SHA, Size: s.Size})
	}
	if len(files) == 0 {
		return ports.ResolvedRepo{}, domain.NewError(domain.KindNotFound, "no matching GGUF files in repository").
			WithField("repo_id", repoID).WithField("quantization", quantization)
	}

	return ports.ResolvedRepo{
		RepoID:   info.ID,
		Revision: info.SHA,
		Files:    files,
		Tags:     info.Tags,
	}, nil
}
