package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parleyai/parley/internal/config"
	"github.com/parleyai/parley/internal/httpkit"
)

// AzureClient is a client for the Azure OpenAI chat completions API.
type AzureClient struct {
	endpoint    string
	apiKey      string
	apiVersion  string
	deployment  string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// AzureOptions configures an AzureClient beyond the required connection
// settings. Zero values fall back to service defaults.
type AzureOptions struct {
	Temperature float64
	MaxTokens   int
}

// NewAzureClient creates a client for one Azure OpenAI deployment.
func NewAzureClient(endpoint, apiKey, apiVersion, deployment string, opts AzureOptions, logger *slog.Logger) *AzureClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Model responses can take significant time before sending headers
	// (long prompts, tool-heavy requests). Use a custom transport with a
	// generous response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AzureClient{
		endpoint:    strings.TrimRight(endpoint, "/"),
		apiKey:      apiKey,
		apiVersion:  apiVersion,
		deployment:  deployment,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		logger:      logger.With("provider", "azure-openai"),
		httpClient: httpkit.NewClient(
			// No global timeout — streaming responses can be long-lived.
			// Rely on ctx deadlines/cancellation for timeout control.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Azure OpenAI wire types. Tool call arguments travel as a JSON string
// on the wire; the provider-neutral ToolCall carries a decoded map.

type azureRequest struct {
	Messages    []azureMessage `json:"messages"`
	Tools       []azureTool    `json:"tools,omitempty"`
	ToolChoice  string         `json:"tool_choice,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

type azureMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []azureToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type azureTool struct {
	Type     string         `json:"type"`
	Function map[string]any `json:"function"`
}

type azureToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type azureResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      azureMessage `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type azureStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends a non-streaming chat completion request.
func (c *AzureClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := azureRequest{
		Messages:    convertToAzure(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if len(tools) > 0 {
		req.Tools = convertToolsToAzure(tools)
		req.ToolChoice = "auto"
	}

	resp, err := c.send(ctx, &req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire azureResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in completion response")
	}

	choice := wire.Choices[0]
	result := &ChatResponse{
		Model:        wire.Model,
		Message:      convertFromAzure(choice.Message),
		FinishReason: choice.FinishReason,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"finish_reason", result.FinishReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// ChatStream sends a streaming chat request, forwarding text fragments
// to callback as they arrive. The accumulated content is returned when
// the provider signals completion. Context cancellation (e.g. the HTTP
// client disconnecting) stops the read loop promptly.
func (c *AzureClient) ChatStream(ctx context.Context, messages []Message, callback StreamCallback) (*ChatResponse, error) {
	req := azureRequest{
		Messages:    convertToAzure(messages),
		Stream:      true,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.send(ctx, &req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Increase scanner buffer for large fragments.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	result := &ChatResponse{}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk azureStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}

		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			contentBuilder.WriteString(token)
			if callback != nil {
				callback(token)
			}
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			result.FinishReason = fr
		}
	}
	if err := scanner.Err(); err != nil {
		// A consumer disconnect cancels ctx and surfaces here as a read
		// error; report the cancellation, not the wrapped read failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}

	result.Message = Message{Role: "assistant", Content: contentBuilder.String()}
	return result, nil
}

// Ping verifies the endpoint and credentials with a minimal request.
func (c *AzureClient) Ping(ctx context.Context) error {
	req := azureRequest{
		Messages:  []azureMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	resp, err := c.send(ctx, &req)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// send marshals req and performs the HTTP exchange, mapping transport
// and authentication failures to ErrUnavailable.
func (c *AzureClient) send(ctx context.Context, req *azureRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Caller cancellation is a signal, not a service failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: invalid credentials (status %d)", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("azure API error %d: %s", resp.StatusCode, errBody)
	}

	return resp, nil
}

// convertToAzure maps provider-neutral messages to the wire format,
// re-encoding tool call arguments as JSON strings.
func convertToAzure(messages []Message) []azureMessage {
	out := make([]azureMessage, 0, len(messages))
	for _, m := range messages {
		am := azureMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire := azureToolCall{ID: tc.ID, Type: "function"}
			wire.Function.Name = tc.Function.Name
			if tc.Function.Arguments != nil {
				args, err := json.Marshal(tc.Function.Arguments)
				if err == nil {
					wire.Function.Arguments = string(args)
				}
			}
			if wire.Function.Arguments == "" {
				wire.Function.Arguments = "{}"
			}
			am.ToolCalls = append(am.ToolCalls, wire)
		}
		out = append(out, am)
	}
	return out
}

// convertFromAzure maps a wire assistant message to the neutral form,
// decoding each tool call's argument string. Undecodable arguments are
// preserved under "_raw" so the failure is visible to the tool layer.
func convertFromAzure(m azureMessage) Message {
	msg := Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, wire := range m.ToolCalls {
		tc := ToolCall{ID: wire.ID}
		tc.Function.Name = wire.Function.Name
		if wire.Function.Arguments != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(wire.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": wire.Function.Arguments}
			}
			tc.Function.Arguments = args
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return msg
}

// convertToolsToAzure wraps registry tool definitions in the
// chat-completions tool envelope.
func convertToolsToAzure(tools []map[string]any) []azureTool {
	out := make([]azureTool, 0, len(tools))
	for _, t := range tools {
		if fn, ok := t["function"].(map[string]any); ok {
			out = append(out, azureTool{Type: "function", Function: fn})
			continue
		}
		out = append(out, azureTool{Type: "function", Function: t})
	}
	return out
}
