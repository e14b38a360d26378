package htmltable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PriceWatch/internal/feed"
	"PriceWatch/internal/httputil"
)

// Scanner reads the published-to-web HTML rendition of the price sheet.
// It is the fallback strategy when the values API is not reachable; the
// published page cannot enumerate tabs, so dataset keys come from config.
type Scanner struct {
	baseURL string
	keys    []string
	client  *http.Client
}

var _ feed.Fetcher = (*Scanner)(nil)

// NewScanner wires an HTTP client; a nil client gets pooled defaults.
func NewScanner(baseURL string, datasetKeys []string, client *http.Client) *Scanner {
	if client == nil {
		client = httputil.NewHTTPClient(nil)
	}
	return &Scanner{baseURL: baseURL, keys: datasetKeys, client: client}
}

// Name identifies the strategy inside the registry.
func (s *Scanner) Name() string {
	return "htmltable"
}

// FetchRows downloads the published page for one tab and extracts table rows.
func (s *Scanner) FetchRows(ctx context.Context, req feed.Request) (feed.RawRows, error) {
	if !s.knownKey(req.DatasetKey) {
		return nil, fmt.Errorf("tab %s: %w", req.DatasetKey, feed.ErrDatasetNotFound)
	}

	pageURL, err := buildPageURL(s.baseURL, req.DatasetKey)
	if err != nil {
		return nil, fmt.Errorf("tab %s: %w", req.DatasetKey, err)
	}

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("tab %s: %w", req.DatasetKey, err)
	}

	rows := extractRows(doc)
	if len(rows) == 0 {
		return nil, fmt.Errorf("tab %s: %w", req.DatasetKey, feed.ErrDatasetNotFound)
	}
	return rows, nil
}

// ListKeys returns the configured tab names, newest first by convention.
func (s *Scanner) ListKeys(ctx context.Context) ([]string, error) {
	if len(s.keys) == 0 {
		return nil, fmt.Errorf("no dataset keys configured for the published table")
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

func (s *Scanner) knownKey(key string) bool {
	for _, k := range s.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (s *Scanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "PriceWatch/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, feed.ErrDatasetNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, feed.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", feed.ErrAuthorization, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", feed.ErrUpstreamUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractRows(doc *goquery.Document) feed.RawRows {
	var rows feed.RawRows

	doc.Find("table tr").Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(j int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if allEmpty(cells) {
			return
		}
		rows = append(rows, cells)
	})

	return rows
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func buildPageURL(base, tab string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid published url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("tab", tab)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
