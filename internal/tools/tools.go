// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/parleyai/parley/internal/httpkit"
	"github.com/parleyai/parley/internal/memory"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                          `json:"name"`
	Description string                                                          `json:"description"`
	Parameters  map[string]any                                                  `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools      map[string]*Tool
	store      memory.Store
	httpClient *http.Client
}

// NewRegistry creates a tool registry. The store may be nil, in which
// case the database tools report unavailability instead of failing the
// agent loop.
func NewRegistry(store memory.Store) *Registry {
	r := &Registry{
		tools:      make(map[string]*Tool),
		store:      store,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "currency_convert",
		Description: "Convert currency using current exchange rates. Returns: amount converted.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{
					"type":        "number",
					"description": "The amount to convert",
				},
				"from_curr": map[string]any{
					"type":        "string",
					"description": "Source currency code (e.g., USD)",
				},
				"to_curr": map[string]any{
					"type":        "string",
					"description": "Target currency code (e.g., EUR)",
				},
			},
			"required": []string{"amount", "from_curr", "to_curr"},
		},
		Handler: r.handleCurrencyConvert,
	})

	r.Register(&Tool{
		Name:        "get_joke",
		Description: "Get a random joke. Returns setup and punchline.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleGetJoke,
	})

	r.Register(&Tool{
		Name:        "calculate",
		Description: "Evaluate math expression. Returns numeric result only.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Arithmetic expression using numbers, + - * / and parentheses",
				},
			},
			"required": []string{"expression"},
		},
		Handler: r.handleCalculate,
	})

	r.Register(&Tool{
		Name:        "get_time",
		Description: "Get current date and time. Returns: YYYY-MM-DD HH:MM:SS",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "Optional IANA timezone (e.g., Europe/Paris)",
				},
			},
		},
		Handler: r.handleGetTime,
	})

	r.Register(&Tool{
		Name:        "db_save_conversation",
		Description: "Save conversation to the database. Returns 'Saved' on success, or error message if database unavailable.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "The user the conversation belongs to",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "The user's message",
				},
				"response": map[string]any{
					"type":        "string",
					"description": "The assistant's response",
				},
			},
			"required": []string{"user_id", "message", "response"},
		},
		Handler: r.handleSaveConversation,
	})

	r.Register(&Tool{
		Name:        "db_get_history",
		Description: "Get recent conversation history from the database. Returns JSON array or 'No history' if database unavailable.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "The user to fetch history for",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of exchanges to return (default 5)",
				},
			},
			"required": []string{"user_id"},
		},
		Handler: r.handleGetHistory,
	})

	r.Register(&Tool{
		Name:        "db_save_preference",
		Description: "Save user preferences to the database. Returns 'Saved' on success, or error if database unavailable.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "The user the preferences belong to",
				},
				"preferences": map[string]any{
					"type":        "string",
					"description": "Preference payload (free-form or JSON)",
				},
			},
			"required": []string{"user_id", "preferences"},
		},
		Handler: r.handleSavePreference,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the chat-completions function format.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Describe returns tool metadata for the discovery endpoint.
func (r *Registry) Describe() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	return result
}

// Execute runs a tool by name with already-decoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(ctx, args)
}

// Typed argument extraction. Model-generated arguments arrive as
// map[string]any; each accessor validates both presence and type so a
// malformed call produces a clear error instead of a zero value.

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func numberArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func optionalIntArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}

// Tool handlers

func (r *Registry) handleCurrencyConvert(ctx context.Context, args map[string]any) (string, error) {
	amount, err := numberArg(args, "amount")
	if err != nil {
		return "", err
	}
	fromCurr, err := stringArg(args, "from_curr")
	if err != nil {
		return "", err
	}
	toCurr, err := stringArg(args, "to_curr")
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://api.exchangerate-api.com/v4/latest/%s", fromCurr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion error: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("conversion error: %w", err)
	}

	rate, ok := data.Rates[toCurr]
	if !ok {
		return fmt.Sprintf("Currency %s not found", toCurr), nil
	}
	return fmt.Sprintf("%.2f %s", amount*rate, toCurr), nil
}

func (r *Registry) handleGetJoke(ctx context.Context, args map[string]any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://official-joke-api.appspot.com/random_joke", nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("joke error: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		Setup     string `json:"setup"`
		Punchline string `json:"punchline"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("joke error: %w", err)
	}
	return fmt.Sprintf("%s %s", data.Setup, data.Punchline), nil
}

func (r *Registry) handleCalculate(ctx context.Context, args map[string]any) (string, error) {
	expression, err := stringArg(args, "expression")
	if err != nil {
		return "", err
	}
	result, err := Evaluate(expression)
	if err != nil {
		return "Invalid expression", nil
	}
	return formatNumber(result), nil
}

func (r *Registry) handleGetTime(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now()
	if tz := optionalStringArg(args, "timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone: %s", tz)
		}
		return fmt.Sprintf("%s %s", now.In(loc).Format("2006-01-02 15:04:05"), tz), nil
	}
	return now.Format("2006-01-02 15:04:05"), nil
}

func (r *Registry) handleSaveConversation(ctx context.Context, args map[string]any) (string, error) {
	userID, err := stringArg(args, "user_id")
	if err != nil {
		return "", err
	}
	message, err := stringArg(args, "message")
	if err != nil {
		return "", err
	}
	response, err := stringArg(args, "response")
	if err != nil {
		return "", err
	}

	if r.store == nil {
		return "Not saved: database not configured", nil
	}
	if _, err := r.store.AppendConversation(ctx, userID, message, response); err != nil {
		return fmt.Sprintf("Not saved: %v", err), nil
	}
	return "Saved", nil
}

func (r *Registry) handleGetHistory(ctx context.Context, args map[string]any) (string, error) {
	userID, err := stringArg(args, "user_id")
	if err != nil {
		return "", err
	}
	limit := optionalIntArg(args, "limit", 5)

	if r.store == nil {
		return "No history available: database not configured", nil
	}
	conversations, err := r.store.RecentConversations(ctx, userID, limit)
	if err != nil {
		return fmt.Sprintf("No history available: %v", err), nil
	}
	if len(conversations) == 0 {
		return "No history", nil
	}

	// Truncated excerpts keep tool results token-efficient.
	type entry struct {
		Msg  string `json:"msg"`
		Resp string `json:"resp"`
		Time string `json:"time"`
	}
	history := make([]entry, 0, len(conversations))
	for _, c := range conversations {
		history = append(history, entry{
			Msg:  Truncate(c.Message, 100),
			Resp: Truncate(c.Response, 100),
			Time: c.Timestamp.Format(time.RFC3339),
		})
	}

	out, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (r *Registry) handleSavePreference(ctx context.Context, args map[string]any) (string, error) {
	userID, err := stringArg(args, "user_id")
	if err != nil {
		return "", err
	}
	preferences, err := stringArg(args, "preferences")
	if err != nil {
		return "", err
	}

	if r.store == nil {
		return "Not saved: database not configured", nil
	}
	if err := r.store.UpsertPreferences(ctx, userID, preferences); err != nil {
		return fmt.Sprintf("Not saved: %v", err), nil
	}
	return "Saved", nil
}

// Truncate caps s at max bytes, backing up so a multi-byte UTF-8 rune
// is never split at the cut point. Tool output and history excerpts
// flow into JSON responses and model prompts, which both need valid
// UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
