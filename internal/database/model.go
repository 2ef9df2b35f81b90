// Package database holds the row types and pgx-backed repositories for
// the sync engine and chat memory layer. Money amounts are integer minor
// units (kobo, 1 NGN = 100 kobo) — the same scaled-integer convention the
// teacher code used for BTCAmountSats/FiatAmountCents, avoiding float
// rounding on the ledger.
package database

import (
	"strings"
	"time"
)

// OfflineTxStatus is the lifecycle state of an offline transaction.
type OfflineTxStatus string

const (
	TxPending  OfflineTxStatus = "PENDING"
	TxSynced   OfflineTxStatus = "SYNCED"
	TxFailed   OfflineTxStatus = "FAILED"
	TxConflict OfflineTxStatus = "CONFLICT"
)

func (s OfflineTxStatus) String() string { return string(s) }

// ParseOfflineTxStatus parses a stored status string, defaulting to
// TxPending for unrecognised values rather than erroring — callers that
// need strict validation should compare against the constants directly.
func ParseOfflineTxStatus(s string) OfflineTxStatus {
	switch OfflineTxStatus(s) {
	case TxSynced:
		return TxSynced
	case TxFailed:
		return TxFailed
	case TxConflict:
		return TxConflict
	default:
		return TxPending
	}
}

// ConflictType is the closed taxonomy of sync rejection reasons.
type ConflictType string

const (
	ConflictDoubleSpend       ConflictType = "DOUBLE_SPEND"
	ConflictInsufficientFunds ConflictType = "INSUFFICIENT_FUNDS"
	ConflictInvalidSignature  ConflictType = "INVALID_SIGNATURE"
	ConflictNonceReused       ConflictType = "NONCE_REUSED"
	ConflictInvalidHash       ConflictType = "INVALID_HASH"
	ConflictChainBroken       ConflictType = "CHAIN_BROKEN"
	ConflictTimestampInvalid  ConflictType = "TIMESTAMP_INVALID"
)

func (c ConflictType) String() string { return string(c) }

// Priority returns the fixed per-type priority (1 = most urgent).
func (c ConflictType) Priority() int {
	switch c {
	case ConflictDoubleSpend, ConflictInvalidSignature, ConflictNonceReused:
		return 1
	case ConflictInsufficientFunds, ConflictInvalidHash:
		return 2
	case ConflictChainBroken:
		return 3
	case ConflictTimestampInvalid:
		return 4
	default:
		return 5
	}
}

// ConflictStatus is the resolution lifecycle of a conflict.
type ConflictStatus string

const (
	ConflictUnresolved     ConflictStatus = "UNRESOLVED"
	ConflictAutoResolved   ConflictStatus = "AUTO_RESOLVED"
	ConflictPendingUser    ConflictStatus = "PENDING_USER"
	ConflictManualResolved ConflictStatus = "MANUAL_RESOLVED"
	ConflictRejected       ConflictStatus = "REJECTED"
)

func (s ConflictStatus) String() string { return string(s) }

// LedgerEntryType is DEBIT or CREDIT.
type LedgerEntryType string

const (
	Debit  LedgerEntryType = "DEBIT"
	Credit LedgerEntryType = "CREDIT"
)

func (t LedgerEntryType) String() string { return string(t) }

// LedgerEntryStatus mirrors the teacher's TransactionStatus shape.
type LedgerEntryStatus string

const (
	LedgerPosted   LedgerEntryStatus = "POSTED"
	LedgerReversed LedgerEntryStatus = "REVERSED"
)

func (s LedgerEntryStatus) String() string { return string(s) }

// MessageRole is one of the four conversation roles.
type MessageRole string

const (
	RoleSystem    MessageRole = "SYSTEM"
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
	RoleTool      MessageRole = "TOOL"
)

func (r MessageRole) String() string { return string(r) }

// OfflineTx is the atom of the sync protocol.
type OfflineTx struct {
	ID              string          `json:"id" db:"id"`
	SenderPhone     string          `json:"sender_phone" db:"sender_phone"`
	RecipientPhone  string          `json:"recipient_phone" db:"recipient_phone"`
	AmountMinor     int64           `json:"amount_minor" db:"amount_minor"` // kobo
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
	Nonce           string          `json:"nonce" db:"nonce"`
	Payload         string          `json:"payload" db:"payload"` // base64 AES-GCM ciphertext
	TxHash          string          `json:"tx_hash" db:"tx_hash"`
	PreviousHash    string          `json:"previous_hash" db:"previous_hash"`
	Signature       string          `json:"signature" db:"signature"`
	Status          OfflineTxStatus `json:"status" db:"status"`
	SyncAttempts    int             `json:"sync_attempts" db:"sync_attempts"`
	LastSyncAttempt *time.Time      `json:"last_sync_attempt,omitempty" db:"last_sync_attempt"`
	SyncError       *string         `json:"sync_error,omitempty" db:"sync_error"`
	OnlineTxID      *string         `json:"online_tx_id,omitempty" db:"online_tx_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// GenesisHash is the 64-character (SHA-256 hex width) all-zero constant
// used as PreviousHash for the first transaction in any chain.
var GenesisHash = strings.Repeat("0", 64)

// ChainState is the one-row-per-user chain head tracker.
type ChainState struct {
	UserID          string     `json:"user_id" db:"user_id"`
	LastSyncedHash  string     `json:"last_synced_hash" db:"last_synced_hash"`
	CurrentHeadHash string     `json:"current_head_hash" db:"current_head_hash"`
	GenesisHash     string     `json:"genesis_hash" db:"genesis_hash"`
	ChainValid      bool       `json:"chain_valid" db:"chain_valid"`
	ValidationError *string    `json:"validation_error,omitempty" db:"validation_error"`
	TotalCount      int        `json:"total_count" db:"total_count"`
	PendingCount    int        `json:"pending_count" db:"pending_count"`
	SyncedCount     int        `json:"synced_count" db:"synced_count"`
	FailedCount     int        `json:"failed_count" db:"failed_count"`
	ConflictCount   int        `json:"conflict_count" db:"conflict_count"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty" db:"last_validated_at"`
}

// UsedNonce is one admitted nonce with its 7-day retention window.
type UsedNonce struct {
	Nonce     string    `json:"nonce" db:"nonce"`
	UserID    string    `json:"user_id" db:"user_id"`
	UsedAt    time.Time `json:"used_at" db:"used_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	TxHash    string    `json:"tx_hash" db:"tx_hash"`
}

// LedgerEntry is one side of the atomic debit/credit pair the ledger
// collaborator emits per successful sync.
type LedgerEntry struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	Type           LedgerEntryType   `json:"type" db:"type"`
	Category       string            `json:"category" db:"category"`
	AmountMinor    int64             `json:"amount_minor" db:"amount_minor"`
	BalanceAfter   int64             `json:"balance_after" db:"balance_after"`
	Reference      string            `json:"reference" db:"reference"`
	Status         LedgerEntryStatus `json:"status" db:"status"`
	IsOffline      bool              `json:"is_offline" db:"is_offline"`
	OfflineTxID    *string           `json:"offline_tx_id,omitempty" db:"offline_tx_id"`
	SenderPhone    string            `json:"sender_phone" db:"sender_phone"`
	RecipientPhone string            `json:"recipient_phone" db:"recipient_phone"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Account is the authoritative balance the ledger debits/credits. Not
// Not a wire type in its own right, but every ledger mutation reads
// and writes one as the authoritative server-side balance.
type Account struct {
	Phone     string    `json:"phone" db:"phone"`
	Balance   int64     `json:"balance_minor" db:"balance_minor"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SyncConflict is a typed, prioritised rejection record.
type SyncConflict struct {
	ID                      string         `json:"id" db:"id"`
	TransactionID           string         `json:"transaction_id" db:"transaction_id"`
	UserID                  string         `json:"user_id" db:"user_id"`
	Type                    ConflictType   `json:"type" db:"type"`
	Description             string         `json:"description" db:"description"`
	ExpectedValue           string         `json:"expected_value,omitempty" db:"expected_value"`
	ActualValue             string         `json:"actual_value,omitempty" db:"actual_value"`
	ExpectedBalance         *int64         `json:"expected_balance,omitempty" db:"expected_balance"`
	ActualBalance           *int64         `json:"actual_balance,omitempty" db:"actual_balance"`
	Priority                int            `json:"priority" db:"priority"`
	Status                  ConflictStatus `json:"status" db:"status"`
	AutoResolutionAttempted bool           `json:"auto_resolution_attempted" db:"auto_resolution_attempted"`
	DetectedAt              time.Time      `json:"detected_at" db:"detected_at"`
	ResolvedAt              *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy              *string        `json:"resolved_by,omitempty" db:"resolved_by"`
	Notes                   *string        `json:"notes,omitempty" db:"notes"`
}

// Conversation is a per-user dialogue.
type Conversation struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	MessageCount  int       `json:"message_count" db:"message_count"`
	TotalTokens   int       `json:"total_tokens" db:"total_tokens"`
	LastMessageAt time.Time `json:"last_message_at" db:"last_message_at"`
	Archived      bool      `json:"archived" db:"archived"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Message is one turn in a Conversation.
type Message struct {
	ID             string            `json:"id" db:"id"`
	ConversationID string            `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole       `json:"role" db:"role"`
	Content        string            `json:"content" db:"content"`
	SequenceNumber int               `json:"sequence_number" db:"sequence_number"`
	Tokens         int               `json:"tokens" db:"tokens"`
	Timestamp      time.Time         `json:"timestamp" db:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// AdminConversation mirrors Conversation with an operator-facing summary.
type AdminConversation struct {
	ID            string    `json:"id" db:"id"`
	AdminID       string    `json:"admin_id" db:"admin_id"`
	Summary       string    `json:"summary,omitempty" db:"summary"`
	MessageCount  int       `json:"message_count" db:"message_count"`
	TotalTokens   int       `json:"total_tokens" db:"total_tokens"`
	LastMessageAt time.Time `json:"last_message_at" db:"last_message_at"`
	Archived      bool      `json:"archived" db:"archived"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// AdminMessage mirrors Message for the admin conversation tree.
type AdminMessage struct {
	ID             string            `json:"id" db:"id"`
	ConversationID string            `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole       `json:"role" db:"role"`
	Content        string            `json:"content" db:"content"`
	SequenceNumber int               `json:"sequence_number" db:"sequence_number"`
	Tokens         int               `json:"tokens" db:"tokens"`
	Timestamp      time.Time         `json:"timestamp" db:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// AuditLog is an append-only record of admin actions and security
// events.
type AuditLog struct {
	ID        string    `json:"id" db:"id"`
	AdminID   string    `json:"admin_id" db:"admin_id"`
	Action    string    `json:"action" db:"action"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	IPAddress string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
