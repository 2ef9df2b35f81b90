// Package chat implements per-user conversation memory, the function
// registry the LLM dispatches against, and the turn-taking loop that
// ties them together with an llm.Provider.
package chat

import (
	"context"
	"fmt"
	"time"

	"mobilemoney/internal/database"
	"mobilemoney/internal/syncengine"
)

// estimateTokens mirrors the ceil(len/4) heuristic: roughly four
// characters per token for English-like text.
func estimateTokens(content string) int {
	if len(content) == 0 {
		return 0
	}
	return (len(content) + 3) / 4
}

// Memory is C10: append-only per-user dialogue with pruning and a small
// in-process cache of the active conversation row.
type Memory struct {
	conversations *database.ConversationRepository
	messages      *database.MessageRepository
	cache         *memoryCache
	maxMessages   int
}

func NewMemory(conversations *database.ConversationRepository, messages *database.MessageRepository, cacheTTL time.Duration, maxMessages int) *Memory {
	return &Memory{
		conversations: conversations,
		messages:      messages,
		cache:         newMemoryCache(cacheTTL),
		maxMessages:   maxMessages,
	}
}

// getOrCreateConversation returns the user's active conversation, first
// consulting the in-process cache.
func (m *Memory) getOrCreateConversation(ctx context.Context, q database.DBTX, userID string) (*database.Conversation, error) {
	if conv, ok := m.cache.get(userID); ok {
		return conv, nil
	}

	conv, err := m.conversations.GetActiveByUser(ctx, q, userID)
	if err == nil {
		m.cache.set(userID, conv)
		return conv, nil
	}
	if err != database.ErrConversationNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &database.Conversation{
		ID:            syncengine.NewID(),
		UserID:        userID,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := m.conversations.Create(ctx, q, conv); err != nil {
		return nil, err
	}
	m.cache.set(userID, conv)
	return conv, nil
}

// Append assigns the next sequence number, estimates tokens, and updates
// conversation counters atomically, serialised per user by the "chat"
// advisory lock it takes itself.
func (m *Memory) Append(ctx context.Context, q database.DBTX, userID string, role database.MessageRole, content string) (*database.Message, error) {
	release, err := syncengine.AcquireNamedLock(ctx, "chat", userID, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer release()

	conv, err := m.getOrCreateConversation(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	seq, err := m.messages.NextSequenceNumber(ctx, q, conv.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tokens := estimateTokens(content)
	msg := &database.Message{
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

	conv.MessageCount++
	conv.TotalTokens += tokens
	conv.LastMessageAt = now
	m.cache.set(userID, conv)

	return msg, nil
}

// Recent returns the last n messages in chronological order.
func (m *Memory) Recent(ctx context.Context, q database.DBTX, userID string, n int) ([]*database.Message, error) {
	conv, err := m.getOrCreateConversation(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return m.messages.ListByConversation(ctx, q, conv.ID, n)
}

// Clear deletes all messages and resets counters; the conversation row
// itself is retained so the (userId) active-conversation uniqueness
// invariant is never violated mid-clear.
func (m *Memory) Clear(ctx context.Context, q database.DBTX, userID string) error {
	conv, err := m.getOrCreateConversation(ctx, q, userID)
	if err != nil {
		return err
	}
	if err := m.messages.DeleteByConversation(ctx, q, conv.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := m.conversations.ResetCounters(ctx, q, conv.ID, now); err != nil {
		return err
	}
	conv.MessageCount = 0
	conv.TotalTokens = 0
	conv.LastMessageAt = now
	m.cache.set(userID, conv)
	return nil
}

// Prune deletes messages older than cutoff and archives conversations
// whose last activity predates it — the retention scheduler's daily job.
func (m *Memory) Prune(ctx context.Context, q database.DBTX, cutoff time.Time) (deletedMessages, archivedConversations int64, err error) {
	deletedMessages, err = m.messages.DeleteOlderThan(ctx, q, cutoff)
	if err != nil {
		return 0, 0, err
	}
	archivedConversations, err = m.conversations.ArchiveStaleBefore(ctx, q, cutoff)
	if err != nil {
		return deletedMessages, 0, err
	}
	return deletedMessages, archivedConversations, nil
}
