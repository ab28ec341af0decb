package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DuckDuckGo implements the Provider interface using the DuckDuckGo
// Instant Answer API. It needs no API key.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo search provider.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		baseURL: "https://api.duckduckgo.com",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// ddgResponse is the JSON response from the Instant Answer API.
type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count == 0 {
		count = 5
	}

	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
		"no_redirect":   {"1"},
	}

	reqURL := d.baseURL + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("duckduckgo: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var dr ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("duckduckgo: decode response: %w", err)
	}

	var results []Result
	if dr.Answer != "" {
		results = append(results, Result{Title: dr.Heading, Snippet: dr.Answer})
	}
	if dr.AbstractText != "" {
		results = append(results, Result{
			Title:   dr.Heading,
			URL:     dr.AbstractURL,
			Snippet: dr.AbstractText,
		})
	}
	results = append(results, flattenTopics(dr.RelatedTopics)...)

	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

// flattenTopics walks the nested RelatedTopics structure the API
// returns for categorized results.
func flattenTopics(topics []ddgTopic) []Result {
	var results []Result
	for _, t := range topics {
		if t.Text != "" {
			results = append(results, Result{
				Title:   t.Text,
				URL:     t.FirstURL,
				Snippet: t.Text,
			})
			continue
		}
		results = append(results, flattenTopics(t.Topics)...)
	}
	return results
}
