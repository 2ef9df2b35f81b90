package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrOfflineTxNotFound is returned when an offline transaction does not exist.
	ErrOfflineTxNotFound = errors.New("offline transaction not found")
	// ErrOfflineTxHashExists is returned on a unique-index violation of tx_hash.
	ErrOfflineTxHashExists = errors.New("offline transaction hash already exists")
	// ErrOfflineTxNonceExists is returned on a unique-index violation of nonce.
	ErrOfflineTxNonceExists = errors.New("offline transaction nonce already exists")
)

// OfflineTxRepository handles persistence of OfflineTx rows. Methods take
// a DBTX so callers can run inside the orchestrator's single durable
// transaction or standalone for read paths.
type OfflineTxRepository struct{}

func NewOfflineTxRepository() *OfflineTxRepository {
	return &OfflineTxRepository{}
}

// Create inserts a new offline transaction with status PENDING.
func (r *OfflineTxRepository) Create(ctx context.Context, q DBTX, tx *OfflineTx) error {
	query := `INSERT INTO offline_transactions (
		id, sender_phone, recipient_phone, amount_minor, timestamp, nonce,
		payload, tx_hash, previous_hash, signature, status,
		sync_attempts, last_sync_attempt, sync_error, online_tx_id, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := q.Exec(ctx, query,
		tx.ID, tx.SenderPhone, tx.RecipientPhone, tx.AmountMinor, tx.Timestamp, tx.Nonce,
		tx.Payload, tx.TxHash, tx.PreviousHash, tx.Signature, tx.Status,
		tx.SyncAttempts, tx.LastSyncAttempt, tx.SyncError, tx.OnlineTxID, tx.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "offline_transactions_tx_hash_key":
				return ErrOfflineTxHashExists
			case "offline_transactions_nonce_key":
				return ErrOfflineTxNonceExists
			}
		}
		return fmt.Errorf("failed to create offline transaction: %w", err)
	}
	return nil
}

func scanOfflineTx(row pgx.Row) (*OfflineTx, error) {
	var t OfflineTx
	err := row.Scan(
		&t.ID, &t.SenderPhone, &t.RecipientPhone, &t.AmountMinor, &t.Timestamp, &t.Nonce,
		&t.Payload, &t.TxHash, &t.PreviousHash, &t.Signature, &t.Status,
		&t.SyncAttempts, &t.LastSyncAttempt, &t.SyncError, &t.OnlineTxID, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const selectOfflineTxColumns = `id, sender_phone, recipient_phone, amount_minor, timestamp, nonce,
		payload, tx_hash, previous_hash, signature, status,
		sync_attempts, last_sync_attempt, sync_error, online_tx_id, created_at`

// GetByTxHash retrieves an offline transaction by its hash.
func (r *OfflineTxRepository) GetByTxHash(ctx context.Context, q DBTX, txHash string) (*OfflineTx, error) {
	query := `SELECT ` + selectOfflineTxColumns + ` FROM offline_transactions WHERE tx_hash = $1`
	t, err := scanOfflineTx(q.QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfflineTxNotFound
		}
		return nil, fmt.Errorf("failed to get offline transaction by hash: %w", err)
	}
	return t, nil
}

// ExistsSyncedByTxHash reports whether a SYNCED offline transaction with
// this hash already exists — used by the orchestrator to detect
// idempotent batch replay.
func (r *OfflineTxRepository) ExistsSyncedByTxHash(ctx context.Context, q DBTX, txHash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM offline_transactions WHERE tx_hash = $1 AND status = $2)`
	var exists bool
	if err := q.QueryRow(ctx, query, txHash, TxSynced).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check synced tx existence: %w", err)
	}
	return exists, nil
}

// ListFailedByUser retrieves all FAILED offline transactions for a user,
// oldest first — the candidate set for the retry entrypoint.
func (r *OfflineTxRepository) ListFailedByUser(ctx context.Context, q DBTX, userID string) ([]*OfflineTx, error) {
	query := `SELECT ` + selectOfflineTxColumns + ` FROM offline_transactions
		WHERE sender_phone = $1 AND status = $2 ORDER BY timestamp ASC`
	rows, err := q.Query(ctx, query, userID, TxFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed transactions: %w", err)
	}
	defer rows.Close()

	var out []*OfflineTx
	for rows.Next() {
		t, err := scanOfflineTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offline transaction row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkSynced transitions a PENDING transaction to SYNCED with the
// ledger entry ID it produced.
func (r *OfflineTxRepository) MarkSynced(ctx context.Context, q DBTX, id, onlineTxID string) error {
	now := time.Now().UTC()
	query := `UPDATE offline_transactions SET status = $2, online_tx_id = $3,
		sync_attempts = sync_attempts + 1, last_sync_attempt = $4 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, TxSynced, onlineTxID, now)
	if err != nil {
		return fmt.Errorf("failed to mark transaction synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOfflineTxNotFound
	}
	return nil
}

// MarkFailed transitions a transaction to FAILED with a reason.
func (r *OfflineTxRepository) MarkFailed(ctx context.Context, q DBTX, id, reason string) error {
	now := time.Now().UTC()
	query := `UPDATE offline_transactions SET status = $2, sync_error = $3,
		sync_attempts = sync_attempts + 1, last_sync_attempt = $4 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, TxFailed, reason, now)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOfflineTxNotFound
	}
	return nil
}

// MarkConflict transitions a transaction to CONFLICT.
func (r *OfflineTxRepository) MarkConflict(ctx context.Context, q DBTX, id, reason string) error {
	now := time.Now().UTC()
	query := `UPDATE offline_transactions SET status = $2, sync_error = $3,
		sync_attempts = sync_attempts + 1, last_sync_attempt = $4 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, TxConflict, reason, now)
	if err != nil {
		return fmt.Errorf("failed to mark transaction conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOfflineTxNotFound
	}
	return nil
}

// Retry moves a FAILED transaction back to PENDING (operator/caller retry).
func (r *OfflineTxRepository) Retry(ctx context.Context, q DBTX, id string) error {
	query := `UPDATE offline_transactions SET status = $2 WHERE id = $1 AND status = $3`
	tag, err := q.Exec(ctx, query, id, TxPending, TxFailed)
	if err != nil {
		return fmt.Errorf("failed to retry transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOfflineTxNotFound
	}
	return nil
}
