package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrAccountNotFound is returned when no account row exists for a phone number.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds is returned when a debit would overdraw an account.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// LedgerRepository owns authoritative account balances and the append-only
// ledger entries that mutate them.
type LedgerRepository struct{}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{}
}

// GetAccount retrieves the authoritative balance for a phone number.
func (r *LedgerRepository) GetAccount(ctx context.Context, q DBTX, phone string) (*Account, error) {
	query := `SELECT phone, balance_minor, updated_at FROM accounts WHERE phone = $1`
	var a Account
	err := q.QueryRow(ctx, query, phone).Scan(&a.Phone, &a.Balance, &a.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// EnsureAccount creates a zero-balance account row for phone if one
// doesn't exist yet — the recipient of an offline transfer may be unknown
// to the ledger until the moment they are first credited.
func (r *LedgerRepository) EnsureAccount(ctx context.Context, q DBTX, phone string) error {
	query := `INSERT INTO accounts (phone, balance_minor, updated_at) VALUES ($1, 0, now())
		ON CONFLICT (phone) DO NOTHING`
	_, err := q.Exec(ctx, query, phone)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

// SetPINDigest stores a bcrypt PIN digest for an already-enrolled account,
// the server-side half of the PoC key-derivation profile: the device
// derives its HMAC signing key from the same PIN, the server only ever
// keeps the digest used to authenticate enrollment/recovery requests.
func (r *LedgerRepository) SetPINDigest(ctx context.Context, q DBTX, phone, pinDigest string) error {
	query := `UPDATE accounts SET pin_digest = $2, updated_at = now() WHERE phone = $1`
	tag, err := q.Exec(ctx, query, phone, pinDigest)
	if err != nil {
		return fmt.Errorf("failed to set pin digest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// PINDigest returns the stored bcrypt digest for a phone number, or
// ErrAccountNotFound if the account doesn't exist or has never enrolled a PIN.
func (r *LedgerRepository) PINDigest(ctx context.Context, q DBTX, phone string) (string, error) {
	query := `SELECT pin_digest FROM accounts WHERE phone = $1`
	var digest *string
	err := q.QueryRow(ctx, query, phone).Scan(&digest)
	if err != nil {
		if isNoRows(err) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("failed to get pin digest: %w", err)
	}
	if digest == nil {
		return "", ErrAccountNotFound
	}
	return *digest, nil
}

// LockAccountForUpdate retrieves a phone's balance with a row lock, used by
// the orchestrator to serialize concurrent debits/credits within one
// durable transaction (the single-writer-per-account contract).
func (r *LedgerRepository) LockAccountForUpdate(ctx context.Context, tx pgx.Tx, phone string) (*Account, error) {
	query := `SELECT phone, balance_minor, updated_at FROM accounts WHERE phone = $1 FOR UPDATE`
	var a Account
	err := tx.QueryRow(ctx, query, phone).Scan(&a.Phone, &a.Balance, &a.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &a, nil
}

// ApplyDebit decrements a locked account's balance, failing if it would go
// negative. Callers must already hold the row lock from LockAccountForUpdate
// within the same transaction.
func (r *LedgerRepository) ApplyDebit(ctx context.Context, q DBTX, phone string, amountMinor int64) (newBalance int64, err error) {
	query := `UPDATE accounts SET balance_minor = balance_minor - $2, updated_at = now()
		WHERE phone = $1 AND balance_minor >= $2 RETURNING balance_minor`
	err = q.QueryRow(ctx, query, phone, amountMinor).Scan(&newBalance)
	if err != nil {
		if isNoRows(err) {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("failed to apply debit: %w", err)
	}
	return newBalance, nil
}

// ApplyCredit increments an account's balance.
func (r *LedgerRepository) ApplyCredit(ctx context.Context, q DBTX, phone string, amountMinor int64) (newBalance int64, err error) {
	query := `UPDATE accounts SET balance_minor = balance_minor + $2, updated_at = now()
		WHERE phone = $1 RETURNING balance_minor`
	err = q.QueryRow(ctx, query, phone, amountMinor).Scan(&newBalance)
	if err != nil {
		if isNoRows(err) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to apply credit: %w", err)
	}
	return newBalance, nil
}

// InsertEntry appends one ledger entry (one side of a debit/credit pair).
func (r *LedgerRepository) InsertEntry(ctx context.Context, q DBTX, e *LedgerEntry) error {
	query := `INSERT INTO ledger_entries (
		id, user_id, type, category, amount_minor, balance_after, reference, status,
		is_offline, offline_tx_id, sender_phone, recipient_phone, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := q.Exec(ctx, query,
		e.ID, e.UserID, e.Type, e.Category, e.AmountMinor, e.BalanceAfter, e.Reference, e.Status,
		e.IsOffline, e.OfflineTxID, e.SenderPhone, e.RecipientPhone, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ListByUser returns a user's ledger entries newest-first, for statement
// generation and balance-history queries.
func (r *LedgerRepository) ListByUser(ctx context.Context, q DBTX, userID string, limit int) ([]*LedgerEntry, error) {
	query := `SELECT id, user_id, type, category, amount_minor, balance_after, reference, status,
		is_offline, offline_tx_id, sender_phone, recipient_phone, created_at
		FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Category, &e.AmountMinor, &e.BalanceAfter,
			&e.Reference, &e.Status, &e.IsOffline, &e.OfflineTxID, &e.SenderPhone, &e.RecipientPhone, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListSinceByUser returns a user's ledger entries created at or after
// since, oldest-first — the chat layer's statement and budget tools work
// off a window rather than a fixed count.
func (r *LedgerRepository) ListSinceByUser(ctx context.Context, q DBTX, userID string, since time.Time) ([]*LedgerEntry, error) {
	query := `SELECT id, user_id, type, category, amount_minor, balance_after, reference, status,
		is_offline, offline_tx_id, sender_phone, recipient_phone, created_at
		FROM ledger_entries WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at ASC`
	rows, err := q.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries since cutoff: %w", err)
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Category, &e.AmountMinor, &e.BalanceAfter,
			&e.Reference, &e.Status, &e.IsOffline, &e.OfflineTxID, &e.SenderPhone, &e.RecipientPhone, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
