package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyai/parley/internal/memory"
)

// DefaultHistoryContext is how many recent exchanges are injected into
// the prompt.
const DefaultHistoryContext = 3

// DefaultSystemPrompt instructs the model on tool usage.
const DefaultSystemPrompt = `You are a helpful AI assistant with access to tools.

Available tools:
- web_search: Search the internet for current information
- weather_search: Get weather for any city
- db_save_conversation: Save chat to memory
- db_get_history: Retrieve past conversations
- db_save_preference: Save user preferences
- http_get: Call any public API
- currency_convert: Convert between currencies
- get_joke: Get a random joke
- calculate: Do math calculations
- get_time: Get current date/time

When user asks something that needs a tool, USE IT!
For example:
- "What's the weather?" → Use weather_search
- "Search for Python news" → Use web_search
- "Convert 100 USD to EUR" → Use currency_convert
- "What's 25 * 47?" → Use calculate

Always explain what you're doing and use tools when appropriate.`

// Exchange is the full outcome of one conversation turn, including
// persistence status. Failures to read or write memory never fail the
// exchange; they are reported here instead.
type Exchange struct {
	Answer       string `json:"response"`
	UserID       string `json:"user_id"`
	Saved        bool   `json:"saved_to_memory"`
	SaveError    string `json:"save_error,omitempty"`
	ContextError string `json:"context_error,omitempty"`
}

// Service runs conversation turns: history in, loop, persistence out.
type Service struct {
	logger         *slog.Logger
	loop           *Loop
	store          memory.Store
	systemPrompt   string
	historyContext int
}

// NewService creates a conversation service. The store may be nil; the
// service then answers without history and reports saves as failed.
func NewService(logger *slog.Logger, loop *Loop, store memory.Store, historyContext int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if historyContext <= 0 {
		historyContext = DefaultHistoryContext
	}
	return &Service{
		logger:         logger,
		loop:           loop,
		store:          store,
		systemPrompt:   DefaultSystemPrompt,
		historyContext: historyContext,
	}
}

// Generate answers one prompt for a user. The answer is produced even
// when the store is unreachable; persistence is always attempted and
// its outcome reported in the Exchange.
func (s *Service) Generate(ctx context.Context, prompt, userID string) (*Exchange, error) {
	if userID == "" {
		userID = "default"
	}

	exchange := &Exchange{UserID: userID}

	input := prompt
	if history, err := s.historyContextFor(ctx, userID); err != nil {
		exchange.ContextError = err.Error()
		s.logger.Warn("history unavailable, continuing without context",
			"user_id", userID,
			"error", err,
		)
	} else if history != "" {
		input = history + "\n\nCurrent question: " + prompt
	}

	result, err := s.loop.Run(ctx, s.systemPrompt, input)
	if err != nil {
		return nil, err
	}
	exchange.Answer = result.Content

	// Persistence is attempted on every exchange, exhausted ones
	// included.
	if s.store == nil {
		exchange.SaveError = "memory store not configured"
	} else if _, err := s.store.AppendConversation(ctx, userID, prompt, result.Content); err != nil {
		exchange.SaveError = err.Error()
		s.logger.Warn("conversation not saved",
			"user_id", userID,
			"error", err,
		)
	} else {
		exchange.Saved = true
	}

	return exchange, nil
}

// historyContextFor renders the user's recent exchanges oldest-first
// for prompt injection. Empty history renders as no context.
func (s *Service) historyContextFor(ctx context.Context, userID string) (string, error) {
	if s.store == nil {
		return "", nil
	}

	recent, err := s.store.RecentConversations(ctx, userID, s.historyContext)
	if err != nil {
		return "", fmt.Errorf("fetch history: %w", err)
	}
	if len(recent) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	for i := len(recent) - 1; i >= 0; i-- {
		b.WriteString("User: ")
		b.WriteString(recent[i].Message)
		b.WriteString("\nAssistant: ")
		b.WriteString(recent[i].Response)
		b.WriteString("\n")
	}
	return b.String(), nil
}
