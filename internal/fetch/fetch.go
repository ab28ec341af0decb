// Package fetch provides bounded HTTP GET retrieval for the agent.
// JSON responses are pretty-printed, HTML responses are reduced to
// readable text, and everything else passes through as plain text.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parleyai/parley/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultMaxBytes is the maximum response body size (2 MB).
const DefaultMaxBytes int64 = 2 * 1024 * 1024

// Result holds the fetched content from a URL.
type Result struct {
	URL         string `json:"url"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and renders remote content for model consumption.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Get requests rawURL with the given query parameters and returns the
// rendered body. Responses with error status codes are reported as
// errors so the caller sees the failure rather than an error page.
func (f *Fetcher) Get(ctx context.Context, rawURL string, params url.Values) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json,text/html;q=0.9,text/plain;q=0.8,*/*;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, u.Host)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &Result{
		URL:         u.String(),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isJSON(contentType) || json.Valid(body):
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			result.Content = string(body)
		} else {
			result.Content = pretty.String()
		}
	case isHTML(contentType):
		_, result.Content = extractHTML(string(body))
	case utf8.Valid(body):
		result.Content = string(body)
	default:
		result.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
	}

	return result, nil
}

func isJSON(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "json")
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
