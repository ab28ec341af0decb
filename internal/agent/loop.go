// Package agent implements the bounded tool-use control loop and the
// conversation service that wraps it with memory.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parleyai/parley/internal/llm"
	"github.com/parleyai/parley/internal/tools"
)

// DefaultMaxIterations bounds the model/tool round trips per request.
const DefaultMaxIterations = 10

// exhaustedAnswer is returned when the model is still requesting tools
// after the final iteration. Exhaustion is an answer, not an error.
const exhaustedAnswer = "Maximum iterations reached. Please try a simpler question."

// Result is the outcome of one control loop run.
type Result struct {
	Content    string `json:"content"`
	Iterations int    `json:"iterations"`
	Exhausted  bool   `json:"exhausted"`
}

// Loop drives the model/tool conversation until the model produces a
// plain text answer or the iteration budget runs out.
type Loop struct {
	logger        *slog.Logger
	llm           llm.Client
	registry      *tools.Registry
	maxIterations int
}

// NewLoop creates a control loop. maxIterations <= 0 selects the
// default budget.
func NewLoop(logger *slog.Logger, client llm.Client, registry *tools.Registry, maxIterations int) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{
		logger:        logger,
		llm:           client,
		registry:      registry,
		maxIterations: maxIterations,
	}
}

// Run executes the loop for one user input. A model turn without tool
// calls ends the run with that turn's content. Tool failures are fed
// back to the model as tool results so it can recover or explain;
// only model call failures abort the run.
func (l *Loop) Run(ctx context.Context, systemPrompt, userInput string) (*Result, error) {
	requestID, _ := uuid.NewV7()
	rid := requestID.String()

	messages := []llm.Message{}
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userInput})

	toolDefs := l.registry.List()
	startTime := time.Now()

	l.logger.Info("agent run started",
		"request_id", rid,
		"input_len", len(userInput),
		"tools_available", len(toolDefs),
	)

	for i := range l.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("agent run cancelled: %w", err)
		}

		resp, err := l.llm.Chat(ctx, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("model call failed (iter %d): %w", i, err)
		}

		l.logger.Debug("model response",
			"request_id", rid,
			"iter", i,
			"tool_calls", len(resp.Message.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		// No tool calls — this is the final answer.
		if len(resp.Message.ToolCalls) == 0 {
			l.logger.Info("agent run completed",
				"request_id", rid,
				"iterations", i+1,
				"elapsed", time.Since(startTime).Round(time.Millisecond),
			)
			return &Result{
				Content:    resp.Message.Content,
				Iterations: i + 1,
			}, nil
		}

		// Execute every requested tool, in request order, before the
		// next model call.
		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			result := l.executeTool(ctx, rid, i, tc)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	l.logger.Warn("agent run exhausted",
		"request_id", rid,
		"max_iterations", l.maxIterations,
		"elapsed", time.Since(startTime).Round(time.Millisecond),
	)
	return &Result{
		Content:    exhaustedAnswer,
		Iterations: l.maxIterations,
		Exhausted:  true,
	}, nil
}

// executeTool dispatches one model-requested tool call. Failures come
// back as result text naming the tool, never as a loop error.
func (l *Loop) executeTool(ctx context.Context, rid string, iter int, tc llm.ToolCall) string {
	name := tc.Function.Name

	if l.registry.Get(name) == nil {
		l.logger.Warn("unknown tool requested",
			"request_id", rid,
			"iter", iter,
			"tool", name,
		)
		return fmt.Sprintf("Error: unknown tool: %s", name)
	}

	toolStart := time.Now()
	result, err := l.registry.Execute(ctx, name, tc.Function.Arguments)
	if err != nil {
		l.logger.Error("tool execution failed",
			"request_id", rid,
			"iter", iter,
			"tool", name,
			"error", err,
		)
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}

	l.logger.Debug("tool executed",
		"request_id", rid,
		"iter", iter,
		"tool", name,
		"result_len", len(result),
		"elapsed", time.Since(toolStart).Round(time.Millisecond),
	)
	return result
}
