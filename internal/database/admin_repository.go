package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAdminConversationNotFound is returned when an admin conversation row does not exist.
var ErrAdminConversationNotFound = errors.New("admin conversation not found")

// AdminConversationRepository mirrors ConversationRepository for the
// operator-facing conversation tree.
type AdminConversationRepository struct{}

func NewAdminConversationRepository() *AdminConversationRepository {
	return &AdminConversationRepository{}
}

func (r *AdminConversationRepository) GetActiveByAdmin(ctx context.Context, q DBTX, adminID string) (*AdminConversation, error) {
	query := `SELECT id, admin_id, summary, message_count, total_tokens, last_message_at, archived, created_at
		FROM admin_conversations WHERE admin_id = $1 AND archived = false`
	var c AdminConversation
	err := q.QueryRow(ctx, query, adminID).Scan(
		&c.ID, &c.AdminID, &c.Summary, &c.MessageCount, &c.TotalTokens, &c.LastMessageAt, &c.Archived, &c.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAdminConversationNotFound
		}
		return nil, fmt.Errorf("failed to get active admin conversation: %w", err)
	}
	return &c, nil
}

func (r *AdminConversationRepository) Create(ctx context.Context, q DBTX, c *AdminConversation) error {
	query := `INSERT INTO admin_conversations (id, admin_id, summary, message_count, total_tokens, last_message_at, archived, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := q.Exec(ctx, query, c.ID, c.AdminID, c.Summary, c.MessageCount, c.TotalTokens, c.LastMessageAt, c.Archived, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin conversation: %w", err)
	}
	return nil
}

func (r *AdminConversationRepository) AppendCounters(ctx context.Context, q DBTX, conversationID string, tokensDelta int, at time.Time) error {
	query := `UPDATE admin_conversations SET message_count = message_count + 1,
		total_tokens = total_tokens + $2, last_message_at = $3 WHERE id = $1`
	tag, err := q.Exec(ctx, query, conversationID, tokensDelta, at)
	if err != nil {
		return fmt.Errorf("failed to append admin conversation counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAdminConversationNotFound
	}
	return nil
}

// UpdateSummary sets the operator-facing rolling summary.
func (r *AdminConversationRepository) UpdateSummary(ctx context.Context, q DBTX, conversationID, summary string) error {
	query := `UPDATE admin_conversations SET summary = $2 WHERE id = $1`
	tag, err := q.Exec(ctx, query, conversationID, summary)
	if err != nil {
		return fmt.Errorf("failed to update admin conversation summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAdminConversationNotFound
	}
	return nil
}

// AdminMessageRepository persists admin conversation turns.
type AdminMessageRepository struct{}

func NewAdminMessageRepository() *AdminMessageRepository {
	return &AdminMessageRepository{}
}

func (r *AdminMessageRepository) NextSequenceNumber(ctx context.Context, q DBTX, conversationID string) (int, error) {
	query := `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM admin_messages WHERE conversation_id = $1`
	var next int
	if err := q.QueryRow(ctx, query, conversationID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next admin sequence number: %w", err)
	}
	return next, nil
}

func (r *AdminMessageRepository) Insert(ctx context.Context, q DBTX, m *AdminMessage) error {
	query := `INSERT INTO admin_messages (id, conversation_id, role, content, sequence_number, tokens, timestamp, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := q.Exec(ctx, query, m.ID, m.ConversationID, m.Role, m.Content, m.SequenceNumber, m.Tokens, m.Timestamp, m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to insert admin message: %w", err)
	}
	return nil
}

func (r *AdminMessageRepository) ListByConversation(ctx context.Context, q DBTX, conversationID string, limit int) ([]*AdminMessage, error) {
	query := `SELECT id, conversation_id, role, content, sequence_number, tokens, timestamp, metadata
		FROM admin_messages WHERE conversation_id = $1 ORDER BY sequence_number DESC LIMIT $2`
	rows, err := q.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin messages: %w", err)
	}
	defer rows.Close()

	var out []*AdminMessage
	for rows.Next() {
		var m AdminMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.Tokens, &m.Timestamp, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan admin message row: %w", err)
		}
		out = append(out, &m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// AuditLogRepository persists append-only admin action records (C13).
type AuditLogRepository struct{}

func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (r *AuditLogRepository) Insert(ctx context.Context, q DBTX, a *AuditLog) error {
	query := `INSERT INTO audit_logs (id, admin_id, action, detail, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := q.Exec(ctx, query, a.ID, a.AdminID, a.Action, a.Detail, a.IPAddress, a.UserAgent, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *AuditLogRepository) ListByAdmin(ctx context.Context, q DBTX, adminID string, limit int) ([]*AuditLog, error) {
	query := `SELECT id, admin_id, action, detail, ip_address, user_agent, created_at
		FROM audit_logs WHERE admin_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := q.Query(ctx, query, adminID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.AdminID, &a.Action, &a.Detail, &a.IPAddress, &a.UserAgent, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
