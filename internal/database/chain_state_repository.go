package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrChainStateNotFound is returned when a user has no chain state row yet.
var ErrChainStateNotFound = errors.New("chain state not found")

// ChainStateRepository persists the one-row-per-user chain head tracker.
type ChainStateRepository struct{}

func NewChainStateRepository() *ChainStateRepository {
	return &ChainStateRepository{}
}

const selectChainStateColumns = `user_id, last_synced_hash, current_head_hash, genesis_hash,
		chain_valid, validation_error, total_count, pending_count, synced_count,
		failed_count, conflict_count, created_at, updated_at, last_synced_at, last_validated_at`

func scanChainState(row pgx.Row) (*ChainState, error) {
	var cs ChainState
	err := row.Scan(
		&cs.UserID, &cs.LastSyncedHash, &cs.CurrentHeadHash, &cs.GenesisHash,
		&cs.ChainValid, &cs.ValidationError, &cs.TotalCount, &cs.PendingCount, &cs.SyncedCount,
		&cs.FailedCount, &cs.ConflictCount, &cs.CreatedAt, &cs.UpdatedAt, &cs.LastSyncedAt, &cs.LastValidatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// GetOrCreate returns the chain state for userID, creating a fresh
// genesis-anchored row if none exists yet.
func (r *ChainStateRepository) GetOrCreate(ctx context.Context, q DBTX, userID string) (*ChainState, error) {
	existing, err := r.Get(ctx, q, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrChainStateNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	cs := &ChainState{
		UserID:          userID,
		LastSyncedHash:  GenesisHash,
		CurrentHeadHash: GenesisHash,
		GenesisHash:     GenesisHash,
		ChainValid:      true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	query := `INSERT INTO chain_states (
		user_id, last_synced_hash, current_head_hash, genesis_hash, chain_valid,
		validation_error, total_count, pending_count, synced_count, failed_count,
		conflict_count, created_at, updated_at, last_synced_at, last_validated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (user_id) DO NOTHING`
	_, err = q.Exec(ctx, query,
		cs.UserID, cs.LastSyncedHash, cs.CurrentHeadHash, cs.GenesisHash, cs.ChainValid,
		cs.ValidationError, cs.TotalCount, cs.PendingCount, cs.SyncedCount, cs.FailedCount,
		cs.ConflictCount, cs.CreatedAt, cs.UpdatedAt, cs.LastSyncedAt, cs.LastValidatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain state: %w", err)
	}
	return r.Get(ctx, q, userID)
}

// Get retrieves the chain state for a user.
func (r *ChainStateRepository) Get(ctx context.Context, q DBTX, userID string) (*ChainState, error) {
	query := `SELECT ` + selectChainStateColumns + ` FROM chain_states WHERE user_id = $1`
	cs, err := scanChainState(q.QueryRow(ctx, query, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrChainStateNotFound
		}
		return nil, fmt.Errorf("failed to get chain state: %w", err)
	}
	return cs, nil
}

// AdvanceHead atomically moves the chain head forward after a transaction
// is admitted, moving it out of pending into synced. Must run inside the
// orchestrator's transaction alongside the offline_tx and ledger writes.
func (r *ChainStateRepository) AdvanceHead(ctx context.Context, q DBTX, userID, newHead string) error {
	now := time.Now().UTC()
	query := `UPDATE chain_states SET
		last_synced_hash = $2,
		current_head_hash = $2,
		pending_count = pending_count - 1,
		synced_count = synced_count + 1,
		updated_at = $3,
		last_synced_at = $3
	WHERE user_id = $1`
	tag, err := q.Exec(ctx, query, userID, newHead, now)
	if err != nil {
		return fmt.Errorf("failed to advance chain head: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainStateNotFound
	}
	return nil
}

// MarkInvalid flags the chain broken with a recorded reason.
func (r *ChainStateRepository) MarkInvalid(ctx context.Context, q DBTX, userID, reason string) error {
	now := time.Now().UTC()
	query := `UPDATE chain_states SET chain_valid = false, validation_error = $2,
		last_validated_at = $3, updated_at = $3 WHERE user_id = $1`
	tag, err := q.Exec(ctx, query, userID, reason, now)
	if err != nil {
		return fmt.Errorf("failed to mark chain invalid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainStateNotFound
	}
	return nil
}

// ClearInvalidation restores chain_valid once an operator has manually
// resolved the underlying conflicts, re-anchoring validation state without
// rewinding the head (supplemental operation, not explicit in the source
// spec but implied by the ChainState.chainValid/validationError fields
// having no other way back to true).
func (r *ChainStateRepository) ClearInvalidation(ctx context.Context, q DBTX, userID string) error {
	now := time.Now().UTC()
	query := `UPDATE chain_states SET chain_valid = true, validation_error = NULL,
		last_validated_at = $2, updated_at = $2 WHERE user_id = $1`
	tag, err := q.Exec(ctx, query, userID, now)
	if err != nil {
		return fmt.Errorf("failed to clear chain invalidation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainStateNotFound
	}
	return nil
}

// IncrementPendingCount bumps the pending counter at batch admission,
// before the validator or ledger have run.
func (r *ChainStateRepository) IncrementPendingCount(ctx context.Context, q DBTX, userID string, by int) error {
	now := time.Now().UTC()
	query := `UPDATE chain_states SET pending_count = pending_count + $2, total_count = total_count + $2, updated_at = $3 WHERE user_id = $1`
	tag, err := q.Exec(ctx, query, userID, by, now)
	if err != nil {
		return fmt.Errorf("failed to increment pending count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainStateNotFound
	}
	return nil
}

// IncrementFailedCount moves a pending transaction to failed without
// moving the head.
func (r *ChainStateRepository) IncrementFailedCount(ctx context.Context, q DBTX, userID string) error {
	now := time.Now().UTC()
	query := `UPDATE chain_states SET pending_count = pending_count - 1,
		failed_count = failed_count + 1, updated_at = $2 WHERE user_id = $1`
	tag, err := q.Exec(ctx, query, userID, now)
	if err != nil {
		return fmt.Errorf("failed to increment failed count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainStateNotFound
	}
	return nil
}

// IncrementConflictCount bumps the conflict counter.
func (r *ChainStateRepository) IncrementConflictCount(ctx context.Context, q DBTX, userID string) error {
	now := time.Now().UTC()
	query := `UPDATE chain_states SET conflict_count = conflict_count + 1, updated_at = $2 WHERE user_id = $1`
	tag, err := q.Exec(ctx, query, userID, now)
	if err != nil {
		return fmt.Errorf("failed to increment conflict count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainStateNotFound
	}
	return nil
}
