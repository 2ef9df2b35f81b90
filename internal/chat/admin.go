package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mobilemoney/internal/database"
	"mobilemoney/internal/llm"
	"mobilemoney/internal/syncengine"
	"mobilemoney/internal/telemetry"
)

// AdminMemory mirrors Memory for the operator-facing conversation tree
// (C13): same append/recent shape, backed by the admin_conversations and
// admin_messages tables instead of their user-facing counterparts.
type AdminMemory struct {
	conversations *database.AdminConversationRepository
	messages      *database.AdminMessageRepository
	maxMessages   int
}

func NewAdminMemory(conversations *database.AdminConversationRepository, messages *database.AdminMessageRepository, maxMessages int) *AdminMemory {
	return &AdminMemory{conversations: conversations, messages: messages, maxMessages: maxMessages}
}

func (m *AdminMemory) getOrCreateConversation(ctx context.Context, q database.DBTX, adminID string) (*database.AdminConversation, error) {
	conv, err := m.conversations.GetActiveByAdmin(ctx, q, adminID)
	if err == nil {
		return conv, nil
	}
	if err != database.ErrAdminConversationNotFound {
		return nil, err
	}
	now := time.Now().UTC()
	conv = &database.AdminConversation{
		ID:            syncengine.NewID(),
		AdminID:       adminID,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := m.conversations.Create(ctx, q, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Append persists one admin turn, serialised per admin by an advisory
// lock it takes itself in the "admin-chat" namespace, keyed by admin id.
func (m *AdminMemory) Append(ctx context.Context, q database.DBTX, adminID string, role database.MessageRole, content string) (*database.AdminMessage, error) {
	release, err := syncengine.AcquireNamedLock(ctx, "admin-chat", adminID, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire admin conversation lock: %w", err)
	}
	defer release()

	conv, err := m.getOrCreateConversation(ctx, q, adminID)
	if err != nil {
		return nil, err
	}
	seq, err := m.messages.NextSequenceNumber(ctx, q, conv.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tokens := estimateTokens(content)
	msg := &database.AdminMessage{
		ID:             syncengine.NewID(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		SequenceNumber: seq,
		Tokens:         tokens,
		Timestamp:      now,
	}
	if err := m.messages.Insert(ctx, q, msg); err != nil {
		return nil, err
	}
	if err := m.conversations.AppendCounters(ctx, q, conv.ID, tokens, now); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *AdminMemory) Recent(ctx context.Context, q database.DBTX, adminID string, n int) ([]*database.AdminMessage, error) {
	conv, err := m.getOrCreateConversation(ctx, q, adminID)
	if err != nil {
		return nil, err
	}
	return m.messages.ListByConversation(ctx, q, conv.ID, n)
}

// AuditLogger records one line per admin chat turn (and any other admin
// action a caller wants audited), independent of whether the turn's
// answer came from cache or a fresh model call.
type AuditLogger struct {
	repo *database.AuditLogRepository
}

func NewAuditLogger(repo *database.AuditLogRepository) *AuditLogger {
	return &AuditLogger{repo: repo}
}

func (a *AuditLogger) Record(ctx context.Context, q database.DBTX, adminID, action, detail, ipAddress, userAgent string) error {
	entry := &database.AuditLog{
		ID:        syncengine.NewID(),
		AdminID:   adminID,
		Action:    action,
		Detail:    detail,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: time.Now().UTC(),
	}
	return a.repo.Insert(ctx, q, entry)
}

// AdminSession is the /chat/admin turn-taking loop: cache-first answer
// lookup, rate limiting, audit logging, then the same tool-dispatch loop
// Session uses for end users, pointed at the admin conversation mirror.
type AdminSession struct {
	memory      *AdminMemory
	registry    *Registry
	provider    llm.Provider
	retryCfg    llm.RetryConfig
	model       string
	insights    *InsightsCache
	rateLimiter *RateLimiter
	audit       *AuditLogger
	counters    *telemetry.Counters
}

func NewAdminSession(memory *AdminMemory, registry *Registry, provider llm.Provider, model string, retryCfg llm.RetryConfig, insights *InsightsCache, rateLimiter *RateLimiter, audit *AuditLogger, counters *telemetry.Counters) *AdminSession {
	return &AdminSession{
		memory: memory, registry: registry, provider: provider, model: model,
		retryCfg: retryCfg, insights: insights, rateLimiter: rateLimiter, audit: audit, counters: counters,
	}
}

// ErrRateLimited is returned when an admin has exceeded their per-minute
// or per-hour request limit.
var ErrRateLimited = fmt.Errorf("admin insights rate limit exceeded")

// Handle answers one admin turn, consulting the insights cache before
// calling the model and auditing the outcome either way.
func (s *AdminSession) Handle(ctx context.Context, q database.DBTX, adminID, query, ipAddress, userAgent string) (string, error) {
	allowed, err := s.rateLimiter.Allow(ctx, adminID)
	if err != nil {
		return "", err
	}
	if !allowed {
		_ = s.audit.Record(ctx, q, adminID, "chat.rate_limited", query, ipAddress, userAgent)
		return "", ErrRateLimited
	}

	if cached, hit, err := s.insights.Get(ctx, query); err == nil && hit {
		if s.counters != nil {
			s.counters.RecordInsightsCacheHit()
		}
		_ = s.audit.Record(ctx, q, adminID, "chat.cache_hit", query, ipAddress, userAgent)
		return cached, nil
	}
	if s.counters != nil {
		s.counters.RecordInsightsCacheMiss()
	}

	if _, err := s.memory.Append(ctx, q, adminID, database.RoleUser, query); err != nil {
		return "", fmt.Errorf("failed to append admin message: %w", err)
	}
	history, err := s.memory.Recent(ctx, q, adminID, s.memory.maxMessages)
	if err != nil {
		return "", fmt.Errorf("failed to load admin conversation history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: strings.ToLower(string(m.Role)), Content: m.Content})
	}

	tc := ToolContext{UserID: adminID, Confirmed: false, Speculative: true}

	var answer string
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
			return "", fmt.Errorf("llm completion failed: %w", err)
		}
		if resp.ToolCall == nil {
			answer = resp.Content
			break
		}
		result, dispatchErr := s.registry.Dispatch(ctx, tc, resp.ToolCall.Name, resp.ToolCall.Arguments)
		if dispatchErr != nil {
			result = "error: " + dispatchErr.Error()
		}
		messages = append(messages, llm.Message{Role: "assistant", ToolName: resp.ToolCall.Name})
		messages = append(messages, llm.Message{Role: "tool", Content: result, ToolCallID: resp.ToolCall.ID, ToolName: resp.ToolCall.Name})
	}
	if answer == "" {
		return "", fmt.Errorf("admin chat turn exceeded %d tool calls without a final answer", maxToolHops)
	}

	if _, err := s.memory.Append(ctx, q, adminID, database.RoleAssistant, answer); err != nil {
		return "", fmt.Errorf("failed to append admin assistant message: %w", err)
	}
	if err := s.insights.Put(ctx, query, answer); err != nil {
		return "", fmt.Errorf("failed to cache insights answer: %w", err)
	}
	if err := s.audit.Record(ctx, q, adminID, "chat.answered", query, ipAddress, userAgent); err != nil {
		return "", fmt.Errorf("failed to record audit log: %w", err)
	}

	return answer, nil
}
