package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/parleyai/parley/internal/tools"
)

// Responses are capped so a single GET cannot flood the model context.
const toolMaxChars = 1000

// RegisterTool adds the http_get tool backed by f to the registry.
func RegisterTool(registry *tools.Registry, f *Fetcher) {
	registry.Register(&tools.Tool{
		Name:        "http_get",
		Description: "Call GET API endpoint. Returns JSON response. Max 1000 chars.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to request.",
				},
				"params": map[string]any{
					"type":        "string",
					"description": "Optional query parameters as a JSON object string.",
				},
			},
			"required": []string{"url"},
		},
		Handler: toolHandler(f),
	})
}

func toolHandler(f *Fetcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		rawURL, _ := args["url"].(string)
		if rawURL == "" {
			return "", fmt.Errorf("http_get: url is required")
		}

		params := url.Values{}
		if raw, ok := args["params"].(string); ok && raw != "" {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
				return "", fmt.Errorf("http_get: invalid params: %w", err)
			}
			for key, v := range decoded {
				params.Set(key, fmt.Sprintf("%v", v))
			}
		}

		result, err := f.Get(ctx, rawURL, params)
		if err != nil {
			return "", fmt.Errorf("http_get: %w", err)
		}

		content := result.Content
		if len(content) > toolMaxChars {
			content = tools.Truncate(content, toolMaxChars) + "..."
		}
		return content, nil
	}
}
