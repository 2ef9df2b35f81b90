package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConversationNotFound is returned when a conversation row does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository persists per-user dialogue memory.
type ConversationRepository struct{}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{}
}

// GetActiveByUser returns the user's non-archived conversation, if any.
func (r *ConversationRepository) GetActiveByUser(ctx context.Context, q DBTX, userID string) (*Conversation, error) {
	query := `SELECT id, user_id, message_count, total_tokens, last_message_at, archived, created_at
		FROM conversations WHERE user_id = $1 AND archived = false`
	var c Conversation
	err := q.QueryRow(ctx, query, userID).Scan(
		&c.ID, &c.UserID, &c.MessageCount, &c.TotalTokens, &c.LastMessageAt, &c.Archived, &c.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get active conversation: %w", err)
	}
	return &c, nil
}

// Create inserts a fresh conversation for a user.
func (r *ConversationRepository) Create(ctx context.Context, q DBTX, c *Conversation) error {
	query := `INSERT INTO conversations (id, user_id, message_count, total_tokens, last_message_at, archived, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := q.Exec(ctx, query, c.ID, c.UserID, c.MessageCount, c.TotalTokens, c.LastMessageAt, c.Archived, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// AppendCounters bumps message_count/total_tokens/last_message_at after a
// turn is persisted — called alongside Message inserts under the
// per-user advisory lock.
func (r *ConversationRepository) AppendCounters(ctx context.Context, q DBTX, conversationID string, tokensDelta int, at time.Time) error {
	query := `UPDATE conversations SET message_count = message_count + 1,
		total_tokens = total_tokens + $2, last_message_at = $3 WHERE id = $1`
	tag, err := q.Exec(ctx, query, conversationID, tokensDelta, at)
	if err != nil {
		return fmt.Errorf("failed to append conversation counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ResetCounters zeroes message_count/total_tokens after a clear(), leaving
// the conversation row (and its id) in place.
func (r *ConversationRepository) ResetCounters(ctx context.Context, q DBTX, conversationID string, at time.Time) error {
	query := `UPDATE conversations SET message_count = 0, total_tokens = 0, last_message_at = $2 WHERE id = $1`
	tag, err := q.Exec(ctx, query, conversationID, at)
	if err != nil {
		return fmt.Errorf("failed to reset conversation counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ArchiveStaleBefore archives conversations whose last_message_at is older
// than cutoff, part of the retention scheduler's 30-day stale sweep.
func (r *ConversationRepository) ArchiveStaleBefore(ctx context.Context, q DBTX, cutoff time.Time) (int64, error) {
	query := `UPDATE conversations SET archived = true WHERE archived = false AND last_message_at < $1`
	tag, err := q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive stale conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MessageRepository persists individual conversation turns.
type MessageRepository struct{}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{}
}

// NextSequenceNumber returns the next sequence number for a conversation,
// used to enforce the (conversationId, sequenceNumber) uniqueness
// invariant under the per-user advisory lock.
func (r *MessageRepository) NextSequenceNumber(ctx context.Context, q DBTX, conversationID string) (int, error) {
	query := `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE conversation_id = $1`
	var next int
	if err := q.QueryRow(ctx, query, conversationID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next sequence number: %w", err)
	}
	return next, nil
}

// Insert appends one message turn.
func (r *MessageRepository) Insert(ctx context.Context, q DBTX, m *Message) error {
	query := `INSERT INTO messages (id, conversation_id, role, content, sequence_number, tokens, timestamp, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := q.Exec(ctx, query, m.ID, m.ConversationID, m.Role, m.Content, m.SequenceNumber, m.Tokens, m.Timestamp, m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListByConversation returns a conversation's messages in turn order, used
// to assemble the prompt window handed to the LLM provider.
func (r *MessageRepository) ListByConversation(ctx context.Context, q DBTX, conversationID string, limit int) ([]*Message, error) {
	query := `SELECT id, conversation_id, role, content, sequence_number, tokens, timestamp, metadata
		FROM messages WHERE conversation_id = $1 ORDER BY sequence_number DESC LIMIT $2`
	rows, err := q.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.Tokens, &m.Timestamp, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, &m)
	}
	reverseMessages(out)
	return out, rows.Err()
}

func reverseMessages(m []*Message) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

// DeleteOlderThan removes messages older than cutoff, part of the
// retention scheduler's daily 02:00-local message prune.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, q DBTX, cutoff time.Time) (int64, error) {
	query := `DELETE FROM messages WHERE timestamp < $1`
	tag, err := q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByConversation removes every message in a conversation, used by
// clear() — the conversation row itself is retained.
func (r *MessageRepository) DeleteByConversation(ctx context.Context, q DBTX, conversationID string) error {
	query := `DELETE FROM messages WHERE conversation_id = $1`
	_, err := q.Exec(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return nil
}
