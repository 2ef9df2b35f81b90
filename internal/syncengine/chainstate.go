package syncengine

import (
	"context"

	"mobilemoney/internal/database"
)

// ChainStateStore is the thin collaborator the orchestrator and validator
// both depend on explicitly — neither is allowed to mutate chain state
// except through these methods.
type ChainStateStore struct {
	repo *database.ChainStateRepository
}

func NewChainStateStore(repo *database.ChainStateRepository) *ChainStateStore {
	return &ChainStateStore{repo: repo}
}

// LoadOrCreate returns the user's chain state, lazily creating it
// genesis-anchored on first contact.
func (s *ChainStateStore) LoadOrCreate(ctx context.Context, q database.DBTX, userID string) (*database.ChainState, error) {
	return s.repo.GetOrCreate(ctx, q, userID)
}

// MarkSynced moves the head forward to hash and bumps the synced counter.
func (s *ChainStateStore) MarkSynced(ctx context.Context, q database.DBTX, userID, hash string) error {
	return s.repo.AdvanceHead(ctx, q, userID, hash)
}

// IncrementPendingCount bumps the pending counter at batch admission.
func (s *ChainStateStore) IncrementPendingCount(ctx context.Context, q database.DBTX, userID string, by int) error {
	return s.repo.IncrementPendingCount(ctx, q, userID, by)
}

// MarkFailed bumps the failed counter without moving the head.
func (s *ChainStateStore) MarkFailed(ctx context.Context, q database.DBTX, userID string) error {
	return s.repo.IncrementFailedCount(ctx, q, userID)
}

// MarkConflict bumps the conflict counter without moving the head.
func (s *ChainStateStore) MarkConflict(ctx context.Context, q database.DBTX, userID string) error {
	return s.repo.IncrementConflictCount(ctx, q, userID)
}

// Invalidate sets chainValid=false with a sticky reason; only
// ClearInvalidation (an operator action) can undo it.
func (s *ChainStateStore) Invalidate(ctx context.Context, q database.DBTX, userID, reason string) error {
	return s.repo.MarkInvalid(ctx, q, userID, reason)
}

// ClearInvalidation is the operator-only reset path (supplemental, see
// database.ChainStateRepository.ClearInvalidation).
func (s *ChainStateStore) ClearInvalidation(ctx context.Context, q database.DBTX, userID string) error {
	return s.repo.ClearInvalidation(ctx, q, userID)
}
