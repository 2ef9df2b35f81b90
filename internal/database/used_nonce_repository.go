package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNonceReused is returned when a nonce has already been admitted by
// any user, independent of which transaction it originally belonged to
// (the replay-protection window).
var ErrNonceReused = errors.New("nonce already used")

// NonceRetentionWindow is how long an admitted nonce stays indexed before
// the retention sweep (C14) may reclaim it.
const NonceRetentionWindow = 7 * 24 * time.Hour

// UsedNonceRepository tracks admitted nonces for replay protection.
type UsedNonceRepository struct{}

func NewUsedNonceRepository() *UsedNonceRepository {
	return &UsedNonceRepository{}
}

// Record inserts a nonce as used. Returns ErrNonceReused on conflict
// instead of the raw unique-violation error.
func (r *UsedNonceRepository) Record(ctx context.Context, q DBTX, n *UsedNonce) error {
	query := `INSERT INTO used_nonces (nonce, user_id, used_at, expires_at, tx_hash)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := q.Exec(ctx, query, n.Nonce, n.UserID, n.UsedAt, n.ExpiresAt, n.TxHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrNonceReused
		}
		return fmt.Errorf("failed to record used nonce: %w", err)
	}
	return nil
}

// Exists reports whether a nonce has already been admitted anywhere in the
// system — nonce uniqueness is global, matching the unique index on
// used_nonces.nonce alone, not the (user_id, nonce) pair.
func (r *UsedNonceRepository) Exists(ctx context.Context, q DBTX, nonce string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM used_nonces WHERE nonce = $1)`
	var exists bool
	if err := q.QueryRow(ctx, query, nonce).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check nonce existence: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes nonces past their retention window, returning the
// count reclaimed. Used by the retention scheduler's nonce sweep, which
// runs on every tick.
func (r *UsedNonceRepository) DeleteExpired(ctx context.Context, q DBTX, now time.Time) (int64, error) {
	query := `DELETE FROM used_nonces WHERE expires_at < $1`
	tag, err := q.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nonces: %w", err)
	}
	return tag.RowsAffected(), nil
}
