package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConflictAlertMessage is published on the conflict-alerts stream for
// every priority-1 sync conflict (double spend, invalid signature,
// reused nonce) so an operator-facing worker can page on it without
// polling the sync_conflicts table.
type ConflictAlertMessage struct {
	ConflictID    string    `json:"conflict_id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	AmountMinor   int64     `json:"amount_minor"`
	DetectedAt    time.Time `json:"detected_at"`
}

// ToJSON serializes the ConflictAlertMessage to JSON bytes.
func (m *ConflictAlertMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conflict alert message: %w", err)
	}
	return data, nil
}

// FromJSONConflictAlert deserializes JSON bytes into a ConflictAlertMessage and validates it.
func FromJSONConflictAlert(data []byte) (*ConflictAlertMessage, error) {
	msg := &ConflictAlertMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict alert message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks the ConflictAlertMessage has all required fields with valid values.
func (m *ConflictAlertMessage) Validate() error {
	if m.ConflictID == "" {
		return errors.New("conflict_id is required")
	}
	if m.UserID == "" {
		return errors.New("user_id is required")
	}
	if m.Type == "" {
		return errors.New("type is required")
	}
	return nil
}

// RetentionSweepMessage is published by the retention worker after each
// scheduler tick that cleaned something up, letting a downstream reporting
// job tally cleanup volume
// without querying every table the sweep touched.
type RetentionSweepMessage struct {
	NoncesDeleted        int64     `json:"nonces_deleted"`
	ConflictsDeleted     int64     `json:"conflicts_deleted"`
	MessagesDeleted      int64     `json:"messages_deleted"`
	ConversationsArchived int64    `json:"conversations_archived"`
	RanAt                time.Time `json:"ran_at"`
}

// ToJSON serializes the RetentionSweepMessage to JSON bytes.
func (m *RetentionSweepMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retention sweep message: %w", err)
	}
	return data, nil
}

// FromJSONRetentionSweep deserializes JSON bytes into a RetentionSweepMessage.
func FromJSONRetentionSweep(data []byte) (*RetentionSweepMessage, error) {
	msg := &RetentionSweepMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retention sweep message: %w", err)
	}
	return msg, nil
}
