package search

import (
	"context"
	"fmt"

	"github.com/parleyai/parley/internal/tools"
)

// Response caps keep tool results token-efficient: search results are
// context for the model, not a transcript.
const (
	webSearchMaxChars = 500
	weatherMaxChars   = 300
)

// RegisterTools adds the web_search and weather_search tools backed by
// mgr to the registry.
func RegisterTools(registry *tools.Registry, mgr *Manager) {
	registry.Register(&tools.Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Use for recent events, news, or facts not in training data.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query string.",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (1-10). Default: 5.",
				},
			},
			"required": []string{"query"},
		},
		Handler: webSearchHandler(mgr),
	})

	registry.Register(&tools.Tool{
		Name:        "weather_search",
		Description: "Get current weather for a city. Returns temperature and conditions.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "The city to get weather for.",
				},
			},
			"required": []string{"city"},
		},
		Handler: weatherHandler(mgr),
	})
}

func webSearchHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		opts := Options{}
		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = int(count)
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", err
		}
		return tools.Truncate(FormatResults(results, opts.Count), webSearchMaxChars), nil
	}
}

func weatherHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		city, _ := args["city"].(string)
		if city == "" {
			return "", fmt.Errorf("weather_search: city is required")
		}

		results, err := mgr.Search(ctx, "current weather "+city, Options{Count: 3})
		if err != nil {
			return "", err
		}
		return tools.Truncate(FormatResults(results, 3), weatherMaxChars), nil
	}
}
