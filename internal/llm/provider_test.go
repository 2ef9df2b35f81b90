package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_UnknownNameErrors(t *testing.T) {
	_, err := NewProvider("made-up-vendor", "", "key", nil)
	assert.Error(t, err)
}

func TestNewProvider_DefaultsBaseURLPerProvider(t *testing.T) {
	p, err := NewProvider("openai", "", "key", nil)
	require.NoError(t, err)
	assert.IsType(t, &openAIProvider{}, p)

	p, err = NewProvider("anthropic", "", "key", nil)
	require.NoError(t, err)
	assert.IsType(t, &anthropicProvider{}, p)
}

func TestOpenAIProvider_Complete_ReturnsTextAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"your balance is 5000 NGN"}}]}`))
	}))
	defer server.Close()

	p, err := NewProvider("openai", server.URL, "test-key", nil)
	require.NoError(t, err)

	resp, err := p.Complete(t.Context(), CompletionRequest{Model: "gpt-4o-mini", Messages: []Message{{Role: "user", Content: "what's my balance?"}}})
	require.NoError(t, err)
	assert.Nil(t, resp.ToolCall)
	assert.Equal(t, "your balance is 5000 NGN", resp.Content)
}

func TestOpenAIProvider_Complete_ReturnsToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"tool_calls":[
			{"id":"call-1","type":"function","function":{"name":"transaction-query","arguments":"{\"limit\":5}"}}
		]}}]}`))
	}))
	defer server.Close()

	p, err := NewProvider("openai", server.URL, "test-key", nil)
	require.NoError(t, err)

	resp, err := p.Complete(t.Context(), CompletionRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "transaction-query", resp.ToolCall.Name)

	var args struct {
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(resp.ToolCall.Arguments, &args))
	assert.Equal(t, 5, args.Limit)
}

func TestOpenAIProvider_Complete_NonOKStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, err := NewProvider("openai", server.URL, "test-key", nil)
	require.NoError(t, err)

	_, err = p.Complete(t.Context(), CompletionRequest{Model: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestAnthropicProvider_Complete_ReturnsTextAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"your balance is 5000 NGN"}]}`))
	}))
	defer server.Close()

	p, err := NewProvider("anthropic", server.URL, "test-key", nil)
	require.NoError(t, err)

	resp, err := p.Complete(t.Context(), CompletionRequest{Model: "claude-3-haiku", Messages: []Message{
		{Role: "system", Content: "you are a helper"},
		{Role: "user", Content: "what's my balance?"},
	}})
	require.NoError(t, err)
	assert.Nil(t, resp.ToolCall)
	assert.Equal(t, "your balance is 5000 NGN", resp.Content)
}

func TestAnthropicProvider_Complete_ReturnsToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use","id":"call-1","name":"offline-query","input":{}}]}`))
	}))
	defer server.Close()

	p, err := NewProvider("anthropic", server.URL, "test-key", nil)
	require.NoError(t, err)

	resp, err := p.Complete(t.Context(), CompletionRequest{Model: "claude-3-haiku"})
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "offline-query", resp.ToolCall.Name)
}
