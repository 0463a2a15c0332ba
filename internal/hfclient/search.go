package hfclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

// searchLimit bounds how many hub hits are fetched before local ranking;
// the hub's own relevance ordering is a reasonable pre-filter, fuzzy
// ranking refines it rather than replacing it outright.
const searchLimit = 50

type hubSearchHit struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

// SearchRepos queries the Hub's model search endpoint and re-ranks the
// results against query using Jaro-Winkler similarity on the
// lower-cased repo id, highest score first.
func (c *Client) SearchRepos(ctx context.Context, query string) ([]ports.RepoSummary, error) {
	u := fmt.Sprintf("%s/api/models?search=%s&limit=%d", c.baseURL, url.QueryEscape(query), searchLimit)
	req, err := c.newRequest(ctx, http.MethodGet, u)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "build search request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.KindTransport, "search repositories", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.KindTransport, fmt.Sprintf("hub search returned status %d", resp.StatusCode))
	}

	var hits []hubSearchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, domain.WrapError(domain.KindProtocolError, "decode hub search response", err)
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	out := make([]ports.RepoSummary, 0, len(hits))
	for _, h := range hits {
		score := matchr.JaroWinkler(queryLower, strings.ToLower(h.ID), false)
		out = append(out, ports.RepoSummary{RepoID: h.ID, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
