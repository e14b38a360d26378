package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"PriceWatch/internal/feed"
	"PriceWatch/internal/httputil"
)

// Client reads tabular values from the spreadsheet values API. One sheet tab
// corresponds to one dataset key.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ feed.Fetcher = (*Client)(nil)

// NewClient wires an HTTP client; a nil client gets pooled defaults.
func NewClient(baseURL, apiKey string, client *http.Client) *Client {
	if client == nil {
		client = httputil.NewHTTPClient(nil)
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, client: client}
}

// Name identifies the strategy inside the registry.
func (c *Client) Name() string {
	return "sheets"
}

// FetchRows requests all values of the tab named by the dataset key.
func (c *Client) FetchRows(ctx context.Context, req feed.Request) (feed.RawRows, error) {
	endpoint, err := c.buildURL("/values", url.Values{"sheet": {req.DatasetKey}})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Values [][]string `json:"values"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("sheet %s: %w", req.DatasetKey, err)
	}

	return feed.RawRows(payload.Values), nil
}

// ListKeys enumerates tab titles, upstream order preserved (newest first).
func (c *Client) ListKeys(ctx context.Context) ([]string, error) {
	endpoint, err := c.buildURL("/metadata", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Sheets []struct {
			Title string `json:"title"`
		} `json:"sheets"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("list sheet tabs: %w", err)
	}

	keys := make([]string, 0, len(payload.Sheets))
	for _, s := range payload.Sheets {
		if s.Title != "" {
			keys = append(keys, s.Title)
		}
	}
	return keys, nil
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	parsed, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid source url %s: %w", c.baseURL, err)
	}
	if query == nil {
		query = url.Values{}
	}
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "PriceWatch/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", feed.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", feed.ErrAuthorization, code)
	case code == http.StatusNotFound:
		return feed.ErrDatasetNotFound
	case code == http.StatusTooManyRequests:
		return feed.ErrRateLimited
	default:
		return fmt.Errorf("%w: status %d", feed.ErrUpstreamUnavailable, code)
	}
}
