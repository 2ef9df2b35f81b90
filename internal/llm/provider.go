// Package llm declares the provider contract the chat orchestrator calls
// through, and two concrete providers, following the exchange package's
// named-constructor-plus-common-interface shape.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mobilemoney/pkg/logger"

	"go.uber.org/zap"
)

// ToolSchema describes one function-calling tool in the wire format most
// chat-completion APIs expect (OpenAI-style function/tool definitions).
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is one turn fed to the provider: system, user, assistant, or a
// tool result being returned for the model to continue from.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is what the model asks the caller to run next.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is the provider-agnostic request shape.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolSchema
}

// CompletionResponse is the provider-agnostic result: either a final
// text answer, or exactly one tool call the caller must dispatch and
// feed back as a Message with Role "tool".
type CompletionResponse struct {
	Content   string
	ToolCall  *ToolCall
	UsedModel string
}

// Provider is the contract implementations satisfy. It never retries and
// applies no deadline beyond its HTTP client's timeout — retries and the
// per-call deadline are the chat orchestrator's job, so every
// provider behaves identically under the shared retry wrapper.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

const (
	openAIBaseURL    = "https://api.openai.com"
	anthropicBaseURL = "https://api.anthropic.com"
)

// NewProvider builds a Provider by name. baseURL overrides the
// production endpoint (tests point it at an httptest.Server);
// httpClient nil selects a default with a 60-second whole-request
// timeout — the per-call deadline is applied by the caller's context.
func NewProvider(providerName, baseURL, apiKey string, httpClient *http.Client) (Provider, error) {
	providerName = strings.ToLower(providerName)

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	if baseURL == "" {
		switch providerName {
		case "openai":
			baseURL = openAIBaseURL
		case "anthropic":
			baseURL = anthropicBaseURL
		default:
			return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, anthropic)", providerName)
		}
	}

	switch providerName {
	case "openai":
		return &openAIProvider{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}, nil
	case "anthropic":
		return &anthropicProvider{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, anthropic)", providerName)
	}
}

type openAIProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	wireMessages := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wireMessages = append(wireMessages, openAIMessage{
			Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.ToolName,
		})
	}
	wireTools := make([]openAITool, 0, len(req.Tools))
	for _, t := range req.Tools {
		wireTools = append(wireTools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name: t.Name, Description: t.Description, Parameters: t.InputSchema,
			},
		})
	}

	body, err := json.Marshal(openAIChatRequest{Model: req.Model, Messages: wireMessages, Tools: wireTools})
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("openai completion request failed", zap.Error(err))
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d", resp.StatusCode)
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openai: failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := parsed.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		return &CompletionResponse{
			ToolCall:  &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)},
			UsedModel: req.Model,
		}, nil
	}
	return &CompletionResponse{Content: choice.Message.Content, UsedModel: req.Model}, nil
}

type anthropicProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

func (p *anthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var system string
	wireMessages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := m.Role
		if role == "tool" {
			role = "user"
		}
		wireMessages = append(wireMessages, anthropicMessage{Role: role, Content: m.Content})
	}
	wireTools := make([]anthropicTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		wireTools = append(wireTools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	body, err := json.Marshal(anthropicRequest{
		Model: req.Model, Messages: wireMessages, System: system, Tools: wireTools, MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("anthropic completion request failed", zap.Error(err))
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: status %d", resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse response: %w", err)
	}

	for _, block := range parsed.Content {
		if block.Type == "tool_use" {
			return &CompletionResponse{
				ToolCall:  &ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input},
				UsedModel: req.Model,
			}, nil
		}
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &CompletionResponse{Content: text.String(), UsedModel: req.Model}, nil
}
