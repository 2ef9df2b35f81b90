package syncengine

import (
	"context"
	"fmt"
	"time"

	"mobilemoney/internal/database"
)

// ConflictStore records typed, prioritised rejections and carries their
// resolution lifecycle.
type ConflictStore struct {
	repo *database.ConflictRepository
}

func NewConflictStore(repo *database.ConflictRepository) *ConflictStore {
	return &ConflictStore{repo: repo}
}

// Record creates a new UNRESOLVED conflict for a transaction, deriving
// priority from its type and a plain-English description for the AI
// offline-query tool to surface.
func (c *ConflictStore) Record(ctx context.Context, q database.DBTX, transactionID, userID string, typ database.ConflictType, expected, actual string, expectedBalance, actualBalance *int64, amountMinor int64) (*database.SyncConflict, error) {
	conflict := &database.SyncConflict{
		ID:              NewID(),
		TransactionID:   transactionID,
		UserID:          userID,
		Type:            typ,
		Description:     Explain(typ, amountMinor, expected, actual),
		ExpectedValue:   expected,
		ActualValue:     actual,
		ExpectedBalance: expectedBalance,
		ActualBalance:   actualBalance,
		Priority:        typ.Priority(),
		Status:          database.ConflictUnresolved,
		DetectedAt:      time.Now().UTC(),
	}
	if err := c.repo.Create(ctx, q, conflict); err != nil {
		return nil, err
	}
	return conflict, nil
}

// ListUnresolved returns a user's priority-sorted unresolved conflicts.
func (c *ConflictStore) ListUnresolved(ctx context.Context, q database.DBTX, userID string) ([]*database.SyncConflict, error) {
	return c.repo.ListByUser(ctx, q, userID, database.ConflictUnresolved)
}

// Resolve moves a conflict one step along its resolution lifecycle
// (UNRESOLVED -> AUTO_RESOLVED/PENDING_USER, PENDING_USER ->
// MANUAL_RESOLVED/REJECTED) with an operator note, rejecting any other edge.
func (c *ConflictStore) Resolve(ctx context.Context, q database.DBTX, id string, status database.ConflictStatus, resolvedBy string, notes *string) error {
	return c.repo.Resolve(ctx, q, id, status, resolvedBy, notes)
}

// PruneResolved deletes resolved conflicts older than cutoff — the
// retention scheduler's configurable cleanup pass.
func (c *ConflictStore) PruneResolved(ctx context.Context, q database.DBTX, cutoff time.Time) (int64, error) {
	return c.repo.DeleteResolvedBefore(ctx, q, cutoff)
}

// Explain renders a human-oriented explanation of a conflict for the AI
// tool layer in plain English.
func Explain(typ database.ConflictType, amountMinor int64, expected, actual string) string {
	amount := FormatAmountMinor(amountMinor)
	switch typ {
	case database.ConflictDoubleSpend:
		return fmt.Sprintf("This ₦%s transaction has already been applied and cannot be applied twice.", amount)
	case database.ConflictInsufficientFunds:
		return fmt.Sprintf("This ₦%s transfer was declined because the account balance was too low to cover it.", amount)
	case database.ConflictInvalidSignature:
		return fmt.Sprintf("This ₦%s transaction's signature could not be verified and was rejected.", amount)
	case database.ConflictNonceReused:
		return fmt.Sprintf("This ₦%s transaction reused an identifier from an earlier transaction and was rejected as a possible replay.", amount)
	case database.ConflictInvalidHash:
		return fmt.Sprintf("This ₦%s transaction's data did not match its recorded fingerprint and appears corrupted.", amount)
	case database.ConflictChainBroken:
		return fmt.Sprintf("This ₦%s transaction did not link correctly to the previous one (expected %s, got %s) and broke the transaction chain.", amount, expected, actual)
	case database.ConflictTimestampInvalid:
		return fmt.Sprintf("This ₦%s transaction's recorded time was outside the accepted window and was rejected.", amount)
	default:
		return fmt.Sprintf("This ₦%s transaction was rejected.", amount)
	}
}
