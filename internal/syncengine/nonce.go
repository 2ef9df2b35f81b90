package syncengine

import (
	"context"
	"time"

	"mobilemoney/internal/database"

	"github.com/google/uuid"
)

// NonceRegistry gives at-most-once nonce admission, backed by a unique
// index rather than read-then-write.
type NonceRegistry struct {
	repo *database.UsedNonceRepository
}

func NewNonceRegistry(repo *database.UsedNonceRepository) *NonceRegistry {
	return &NonceRegistry{repo: repo}
}

// Admit inserts a nonce as used, returning database.ErrNonceReused if any
// record already claims it. An expired record still blocks the nonce
// until SweepExpired deletes it.
func (n *NonceRegistry) Admit(ctx context.Context, q database.DBTX, userID, nonce, txHash string) error {
	now := time.Now().UTC()
	return n.repo.Record(ctx, q, &database.UsedNonce{
		Nonce:     nonce,
		UserID:    userID,
		UsedAt:    now,
		ExpiresAt: now.Add(database.NonceRetentionWindow),
		TxHash:    txHash,
	})
}

// Exists is a pure lookup against the persistent registry, scoped to the
// nonce alone — admission is global, not per-user, so a nonce replayed
// under a different identity must still be caught.
func (n *NonceRegistry) Exists(ctx context.Context, q database.DBTX, nonce string) (bool, error) {
	return n.repo.Exists(ctx, q, nonce)
}

// SweepExpired deletes all records past their retention window, returning
// the count reclaimed. Used by the retention scheduler's nonce sweep,
// which runs on every tick.
func (n *NonceRegistry) SweepExpired(ctx context.Context, q database.DBTX) (int64, error) {
	return n.repo.DeleteExpired(ctx, q, time.Now().UTC())
}

// NewID generates an opaque identifier for any of the entities this
// package creates (offline-tx IDs, conflict IDs, ledger-entry IDs).
func NewID() string {
	return uuid.NewString()
}
