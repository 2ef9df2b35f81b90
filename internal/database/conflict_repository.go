package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrConflictNotFound is returned when a sync conflict row does not exist.
var ErrConflictNotFound = errors.New("sync conflict not found")

// ConflictRepository persists typed, prioritised sync rejections.
type ConflictRepository struct{}

func NewConflictRepository() *ConflictRepository {
	return &ConflictRepository{}
}

const selectConflictColumns = `id, transaction_id, user_id, type, description,
		expected_value, actual_value, expected_balance, actual_balance, priority,
		status, auto_resolution_attempted, detected_at, resolved_at, resolved_by, notes`

func scanConflict(row pgx.Row) (*SyncConflict, error) {
	var c SyncConflict
	err := row.Scan(
		&c.ID, &c.TransactionID, &c.UserID, &c.Type, &c.Description,
		&c.ExpectedValue, &c.ActualValue, &c.ExpectedBalance, &c.ActualBalance, &c.Priority,
		&c.Status, &c.AutoResolutionAttempted, &c.DetectedAt, &c.ResolvedAt, &c.ResolvedBy, &c.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new conflict record, deriving Priority from Type if unset.
func (r *ConflictRepository) Create(ctx context.Context, q DBTX, c *SyncConflict) error {
	if c.Priority == 0 {
		c.Priority = c.Type.Priority()
	}
	query := `INSERT INTO sync_conflicts (
		id, transaction_id, user_id, type, description, expected_value, actual_value,
		expected_balance, actual_balance, priority, status, auto_resolution_attempted, detected_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := q.Exec(ctx, query,
		c.ID, c.TransactionID, c.UserID, c.Type, c.Description, c.ExpectedValue, c.ActualValue,
		c.ExpectedBalance, c.ActualBalance, c.Priority, c.Status, c.AutoResolutionAttempted, c.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync conflict: %w", err)
	}
	return nil
}

// Get retrieves a conflict by ID.
func (r *ConflictRepository) Get(ctx context.Context, q DBTX, id string) (*SyncConflict, error) {
	query := `SELECT ` + selectConflictColumns + ` FROM sync_conflicts WHERE id = $1`
	c, err := scanConflict(q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to get sync conflict: %w", err)
	}
	return c, nil
}

// ListByUser returns a user's conflicts ordered by priority, then by
// detection time with the oldest first.
func (r *ConflictRepository) ListByUser(ctx context.Context, q DBTX, userID string, status ConflictStatus) ([]*SyncConflict, error) {
	query := `SELECT ` + selectConflictColumns + ` FROM sync_conflicts
		WHERE user_id = $1 AND status = $2 ORDER BY priority ASC, detected_at ASC`
	rows, err := q.Query(ctx, query, userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync conflict row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkAutoResolutionAttempted flags that the orchestrator tried to
// auto-resolve this conflict, independent of outcome.
func (r *ConflictRepository) MarkAutoResolutionAttempted(ctx context.Context, q DBTX, id string) error {
	query := `UPDATE sync_conflicts SET auto_resolution_attempted = true WHERE id = $1`
	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark auto-resolution attempted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflictNotFound
	}
	return nil
}

// ErrInvalidConflictTransition is returned when the requested target status
// isn't reachable from the conflict's current status.
var ErrInvalidConflictTransition = errors.New("invalid sync conflict status transition")

// requiredSourceStatus names the single status a conflict must already be
// in for a Resolve call targeting status to be legal: UNRESOLVED may move
// to AUTO_RESOLVED or PENDING_USER, and PENDING_USER may move to
// MANUAL_RESOLVED or REJECTED. Any other source/target pairing, including
// both terminal statuses and UNRESOLVED -> {MANUAL_RESOLVED, REJECTED},
// is rejected.
func requiredSourceStatus(target ConflictStatus) (ConflictStatus, bool) {
	switch target {
	case ConflictAutoResolved, ConflictPendingUser:
		return ConflictUnresolved, true
	case ConflictManualResolved, ConflictRejected:
		return ConflictPendingUser, true
	default:
		return "", false
	}
}

// Resolve transitions a conflict along the UNRESOLVED -> {AUTO_RESOLVED,
// PENDING_USER} / PENDING_USER -> {MANUAL_RESOLVED, REJECTED} state
// machine with an optional operator note. Supplemental operation implied
// by the resolvedAt/resolvedBy/notes fields having no other write path in
// the source spec's described operations.
func (r *ConflictRepository) Resolve(ctx context.Context, q DBTX, id string, status ConflictStatus, resolvedBy string, notes *string) error {
	requiredSource, ok := requiredSourceStatus(status)
	if !ok {
		return fmt.Errorf("resolve conflict: %q is not a valid target status", status)
	}
	now := time.Now().UTC()
	query := `UPDATE sync_conflicts SET status = $2, resolved_at = $3, resolved_by = $4, notes = $5
		WHERE id = $1 AND status = $6`
	tag, err := q.Exec(ctx, query, id, status, now, resolvedBy, notes, requiredSource)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, q, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot move to %q from a status other than %q", ErrInvalidConflictTransition, status, requiredSource)
	}
	return nil
}

// DeleteResolvedBefore removes terminal conflicts older than cutoff, part
// of the retention scheduler's configurable resolved-conflict cleanup.
func (r *ConflictRepository) DeleteResolvedBefore(ctx context.Context, q DBTX, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sync_conflicts WHERE status NOT IN ($1, $2) AND resolved_at < $3`
	tag, err := q.Exec(ctx, query, ConflictUnresolved, ConflictPendingUser, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved conflicts: %w", err)
	}
	return tag.RowsAffected(), nil
}
