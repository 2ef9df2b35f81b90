package chat

import (
	"context"
	"fmt"
	"strings"

	"mobilemoney/internal/database"
	"mobilemoney/internal/llm"
	"mobilemoney/internal/telemetry"
	"mobilemoney/pkg/logger"

	"go.uber.org/zap"
)

// maxToolHops bounds how many times one turn can bounce between the
// model and the tool registry before the orchestrator gives up rather
// than looping forever on a model that keeps asking for more tools.
const maxToolHops = 4

const systemPrompt = "You are the mobile money assistant. Use the available tools " +
	"to answer questions about the user's balance, transactions, and savings. " +
	"Only call send-money or pay-bill when the user has clearly and explicitly " +
	"asked you to move their money, never as part of exploring a hypothetical."

// llmFallbackMessage is returned to the user when the model is unreachable
// after CompleteWithRetry exhausts its attempts — the conversation still
// advances rather than surfacing a raw infrastructure error.
const llmFallbackMessage = "I'm having trouble reaching the assistant service right now. Please try again in a moment."

// Session is the turn-taking loop (C10/C11 tied together): assemble
// history, call the model, dispatch any tool it selects, feed the result
// back, and persist the final assistant answer.
type Session struct {
	memory   *Memory
	registry *Registry
	provider llm.Provider
	retryCfg llm.RetryConfig
	model    string
	counters *telemetry.Counters
}

func NewSession(memory *Memory, registry *Registry, provider llm.Provider, model string, retryCfg llm.RetryConfig, counters *telemetry.Counters) *Session {
	return &Session{memory: memory, registry: registry, provider: provider, model: model, retryCfg: retryCfg, counters: counters}
}

// Handle runs one user turn to completion. confirmed/speculative flow
// straight through to the tool registry's write-tool gate.
func (s *Session) Handle(ctx context.Context, q database.DBTX, userID, userMessage string, confirmed, speculative bool) (string, error) {
	if _, err := s.memory.Append(ctx, q, userID, database.RoleUser, userMessage); err != nil {
		return "", fmt.Errorf("failed to append user message: %w", err)
	}

	history, err := s.memory.Recent(ctx, q, userID, s.memory.maxMessages)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: strings.ToLower(string(m.Role)), Content: m.Content})
	}

	tc := ToolContext{UserID: userID, Confirmed: confirmed, Speculative: speculative}

	for hop := 0; hop < maxToolHops; hop++ {
		if s.counters != nil {
			s.counters.RecordLLMCall()
		}
		resp, err := llm.CompleteWithRetry(ctx, s.provider, llm.CompletionRequest{
			Model: s.model, Messages: messages, Tools: s.registry.Schemas(),
		}, s.retryCfg)
		if err != nil {
			if s.counters != nil {
				s.counters.RecordLLMFailure()
			}
			logger.Warn("chat: llm completion failed after retries, falling back",
				zap.String("user_id", userID), zap.Error(err))
			note := fmt.Sprintf("[error note] llm completion failed: %v", err)
			if _, appendErr := s.memory.Append(ctx, q, userID, database.RoleAssistant, note); appendErr != nil {
				return "", fmt.Errorf("failed to append assistant error note: %w", appendErr)
			}
			return llmFallbackMessage, nil
		}

		if resp.ToolCall == nil {
			if _, err := s.memory.Append(ctx, q, userID, database.RoleAssistant, resp.Content); err != nil {
				return "", fmt.Errorf("failed to append assistant message: %w", err)
			}
			return resp.Content, nil
		}

		logger.Info("chat: dispatching tool call",
			zap.String("user_id", userID), zap.String("tool", resp.ToolCall.Name))
		if s.counters != nil {
			s.counters.RecordToolDispatch()
		}

		result, dispatchErr := s.registry.Dispatch(ctx, tc, resp.ToolCall.Name, resp.ToolCall.Arguments)
		if dispatchErr != nil {
			result = "error: " + dispatchErr.Error()
		}

		messages = append(messages, llm.Message{Role: "assistant", ToolName: resp.ToolCall.Name, Content: ""})
		messages = append(messages, llm.Message{
			Role: "tool", Content: result, ToolCallID: resp.ToolCall.ID, ToolName: resp.ToolCall.Name,
		})
	}

	return "", fmt.Errorf("chat turn exceeded %d tool calls without a final answer", maxToolHops)
}
