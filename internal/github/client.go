package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// Getter performs one raw GET.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) (Response, error)
}

// Client performs single, classified attempts against the API.
type Client struct {
	getter  Getter
	baseURL string
}

// NewClient wraps getter. An empty baseURL selects DefaultBaseURL.
func NewClient(getter Getter, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{getter: getter, baseURL: strings.TrimRight(baseURL, "/")}
}

// Attempt issues one GET and classifies the response.
func (c *Client) Attempt(ctx context.Context, rawURL string, params url.Values) Result {
	resp, err := c.getter.Get(ctx, rawURL, params)
	return Classify(resp, err)
}

// SearchURL is the code search endpoint.
func (c *Client) SearchURL() string {
	return c.baseURL + "/search/code"
}

// RateLimitURL is the quota status endpoint.
func (c *Client) RateLimitURL() string {
	return c.baseURL + "/rate_limit"
}

type rateLimitPayload struct {
	Resources struct {
		Core   quotaClass `json:"core"`
		Search quotaClass `json:"search"`
	} `json:"resources"`
}

type quotaClass struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Quota polls the rate-limit endpoint once. It does not consume quota.
func (c *Client) Quota(ctx context.Context) (harvest.Quota, error) {
	res := c.Attempt(ctx, c.RateLimitURL(), nil)
	if res.Outcome != OutcomeOK {
		if res.Err != nil {
			return harvest.Quota{}, fmt.Errorf("poll rate limit: %w", res.Err)
		}
		return harvest.Quota{}, fmt.Errorf("poll rate limit: %s (status %d)", res.Outcome, res.StatusCode)
	}
	var payload rateLimitPayload
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return harvest.Quota{}, fmt.Errorf("decode rate limit: %w", err)
	}
	return harvest.Quota{
		CoreRemaining:   payload.Resources.Core.Remaining,
		SearchRemaining: payload.Resources.Search.Remaining,
	}, nil
}

// Fetcher returns an accepted JSON payload for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (json.RawMessage, error)
}

// API decodes search and content payloads obtained through a Fetcher.
type API struct {
	fetcher   Fetcher
	searchURL string
	pageSize  int
}

// NewAPI builds an API for search pages of pageSize items.
func NewAPI(fetcher Fetcher, searchURL string, pageSize int) *API {
	return &API{fetcher: fetcher, searchURL: searchURL, pageSize: pageSize}
}

type searchPayload struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []searchItem `json:"items"`
}

type searchItem struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
}

// Search fetches one page of code search results for query.
func (a *API) Search(ctx context.Context, query string, page int) (harvest.SearchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(a.pageSize))
	params.Set("page", strconv.Itoa(page))
	raw, err := a.fetcher.Fetch(ctx, a.searchURL, params)
	if err != nil {
		return harvest.SearchPage{}, err
	}
	var payload searchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return harvest.SearchPage{}, fmt.Errorf("decode search page %d: %w", page, err)
	}
	out := harvest.SearchPage{
		TotalCount: payload.TotalCount,
		Items:      make([]harvest.SearchResultItem, 0, len(payload.Items)),
	}
	for _, item := range payload.Items {
		out.Items = append(out.Items, harvest.SearchResultItem{
			Identifier:  item.SHA,
			DisplayName: item.Name,
			PathName:    item.Path,
			ContentURL:  item.URL,
			Query:       query,
		})
	}
	return out, nil
}

type contentPayload struct {
	Type     string `json:"type"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Content fetches the contents payload behind a search item. A JSON array
// (a directory listing) is reported with type "dir".
func (a *API) Content(ctx context.Context, contentURL string) (harvest.ContentPayload, error) {
	raw, err := a.fetcher.Fetch(ctx, contentURL, nil)
	if err != nil {
		return harvest.ContentPayload{}, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return harvest.ContentPayload{Type: "dir"}, nil
	}
	var payload contentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return harvest.ContentPayload{}, fmt.Errorf("decode content: %w", err)
	}
	return harvest.ContentPayload{
		Type:       payload.Type,
		Identifier: payload.SHA,
		Encoding:   payload.Encoding,
		Content:    payload.Content,
	}, nil
}
