package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mobilemoney/internal/crypto"
	"mobilemoney/internal/database"
	"mobilemoney/internal/queue"
	"mobilemoney/internal/telemetry"
	"mobilemoney/pkg/logger"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxOutcome reports what happened to one submitted transaction.
type TxOutcome struct {
	Tx       *database.OfflineTx
	Conflict *database.SyncConflict
}

// SyncResult is C9's return value.
type SyncResult struct {
	Total          int
	Success        int
	Failed         int
	Conflict       int
	LastSyncedHash string
	FinalBalance   int64
	Synced         []TxOutcome
	Rejected       []TxOutcome
	// Failure is set only when an infrastructure error aborted the whole
	// orchestrator transaction; in that case every other field reflects
	// the pre-batch state, not a partial outcome.
	Failure error
}

// EpochBumper advances the platform-stats epoch the AI insights cache
// keys its entries to. Defined here rather than imported so the sync
// engine has no dependency on the chat package; chat.InsightsCache
// satisfies this interface structurally.
type EpochBumper interface {
	BumpEpoch(ctx context.Context) error
}

// AlertPublisher is the stream the orchestrator pages priority-1
// conflicts onto. *queue.StreamQueue satisfies this structurally;
// defined locally so the sync engine depends only on the message
// shape, not the transport.
type AlertPublisher interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

const conflictAlertStream = "conflict-alerts"

// Orchestrator is C9: the top-level sync entrypoint. It composes the
// chain-state store, validator, ledger, and conflict store under one
// durable transaction, and owns the transaction boundary itself — neither
// the validator nor the chain-state store is allowed to do that.
type Orchestrator struct {
	db          *database.DB
	offlineTxs  *database.OfflineTxRepository
	chainStates *ChainStateStore
	ledger      *Ledger
	conflicts   *ConflictStore
	nonces      *NonceRegistry
	validator   *Validator
	epochBumper EpochBumper
	counters    *telemetry.Counters
	alerts      AlertPublisher
}

// SetCounters wires optional operational counters; a nil value is a no-op.
func (o *Orchestrator) SetCounters(c *telemetry.Counters) {
	o.counters = c
}

// SetAlertPublisher wires an optional conflict-alert stream. A nil
// publisher is a no-op; alert delivery is best-effort and never fails
// the sync that raised the conflict.
func (o *Orchestrator) SetAlertPublisher(p AlertPublisher) {
	o.alerts = p
}

// publishConflictAlert pages out priority-1 conflicts (double spend,
// invalid signature, reused nonce) once the transaction that raised
// them has already committed.
func (o *Orchestrator) publishConflictAlert(ctx context.Context, userID string, conflict *database.SyncConflict, amountMinor int64) {
	if o.alerts == nil || conflict == nil || conflict.Priority > 1 {
		return
	}
	msg := queue.ConflictAlertMessage{
		ConflictID:    conflict.ID,
		TransactionID: conflict.TransactionID,
		UserID:        userID,
		Type:          string(conflict.Type),
		Description:   conflict.Description,
		AmountMinor:   amountMinor,
		DetectedAt:    conflict.DetectedAt,
	}
	data, err := msg.ToJSON()
	if err != nil {
		logger.Warn("sync: failed to encode conflict alert", zap.Error(err))
		return
	}
	if _, err := o.alerts.Publish(ctx, conflictAlertStream, data); err != nil {
		logger.Warn("sync: failed to publish conflict alert", zap.Error(err))
	}
}

// publishAlerts pages out every priority-1 conflict a completed Sync
// call rejected. Called only after the sync transaction has committed.
func (o *Orchestrator) publishAlerts(ctx context.Context, userID string, result *SyncResult) {
	if o.alerts == nil {
		return
	}
	for _, outcome := range result.Rejected {
		amount := int64(0)
		if outcome.Tx != nil {
			amount = outcome.Tx.AmountMinor
		}
		o.publishConflictAlert(ctx, userID, outcome.Conflict, amount)
	}
}

// abortResult builds the SyncResult an infrastructure error produces:
// every per-transaction field reflects the pre-batch state (the caller's
// transaction has been or will be rolled back), with only Failure set.
func abortResult(total int, err error) (*SyncResult, error) {
	return &SyncResult{Total: total, Failure: err}, err
}

func NewOrchestrator(db *database.DB, offlineTxs *database.OfflineTxRepository, chainStates *ChainStateStore, ledger *Ledger, conflicts *ConflictStore, nonces *NonceRegistry, validator *Validator) *Orchestrator {
	return &Orchestrator{
		db:          db,
		offlineTxs:  offlineTxs,
		chainStates: chainStates,
		ledger:      ledger,
		conflicts:   conflicts,
		nonces:      nonces,
		validator:   validator,
	}
}

// SetEpochBumper wires the AI insights cache's epoch counter so that a
// landed batch invalidates any cached admin answer about balances or
// transaction volume. Optional; a nil bumper is a no-op.
func (o *Orchestrator) SetEpochBumper(b EpochBumper) {
	o.epochBumper = b
}

func (o *Orchestrator) bumpEpoch(ctx context.Context) {
	if o.epochBumper == nil {
		return
	}
	if err := o.epochBumper.BumpEpoch(ctx); err != nil {
		logger.Warn("sync: failed to bump insights stats epoch", zap.Error(err))
	}
}

// WireTx is one transaction as submitted by a device, before a server-side
// ID has been assigned (the id is opaque and assigned on acceptance).
type WireTx struct {
	SenderPhone    string
	RecipientPhone string
	AmountMinor    int64
	Timestamp      time.Time
	Nonce          string
	Payload        string
	TxHash         string
	PreviousHash   string
	Signature      string
}

// Sync is the batch entrypoint. keyDesc/decryptKey are the sender's
// signature and payload-decryption key material, resolved by the caller
// from the user's enrolled key profile.
func (o *Orchestrator) Sync(ctx context.Context, userID string, batch []WireTx, keyDesc crypto.KeyDescriptor, decryptKey []byte) (*SyncResult, error) {
	release, err := acquireUserLock(ctx, userID)
	if err != nil {
		return abortResult(len(batch), err)
	}
	defer release()

	tx, err := o.db.BeginTx(ctx)
	if err != nil {
		return abortResult(len(batch), fmt.Errorf("failed to begin sync transaction: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	chainState, err := o.chainStates.LoadOrCreate(ctx, tx, userID)
	if err != nil {
		return abortResult(len(batch), fmt.Errorf("failed to load chain state: %w", err))
	}

	rows, err := o.admit(ctx, tx, userID, batch)
	if err != nil {
		return abortResult(len(batch), fmt.Errorf("failed to admit batch: %w", err))
	}

	result := &SyncResult{Total: len(batch)}

	if !chainState.ChainValid {
		if err := o.rejectWholeBatch(ctx, tx, userID, chainState, rows, result); err != nil {
			return abortResult(len(batch), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return abortResult(len(batch), fmt.Errorf("failed to commit sync transaction: %w", err))
		}
		committed = true
		o.publishAlerts(ctx, userID, result)
		return result, nil
	}

	var toValidate []*database.OfflineTx
	for _, r := range rows {
		if r.preExistingSynced {
			conflict, err := o.conflicts.Record(ctx, tx, r.tx.ID, userID, database.ConflictDoubleSpend,
				"not yet synced", "already synced", nil, nil, r.tx.AmountMinor)
			if err != nil {
				return abortResult(len(batch), err)
			}
			if err := o.chainStates.MarkConflict(ctx, tx, userID); err != nil {
				return abortResult(len(batch), err)
			}
			result.Conflict++
			result.Rejected = append(result.Rejected, TxOutcome{Tx: r.tx, Conflict: conflict})
			continue
		}
		toValidate = append(toValidate, r.tx)
	}

	if len(toValidate) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return abortResult(len(batch), fmt.Errorf("failed to commit sync transaction: %w", err))
		}
		committed = true
		result.LastSyncedHash = chainState.CurrentHeadHash
		result.FinalBalance, _ = o.ledger.Balance(ctx, o.db.Pool(), userID)
		o.publishAlerts(ctx, userID, result)
		return result, nil
	}

	validation, err := o.validator.Validate(ctx, tx, userID, chainState, toValidate, keyDesc, decryptKey, time.Now().UTC())
	if err != nil {
		return abortResult(len(batch), fmt.Errorf("validation failed: %w", err))
	}

	if len(validation.ChainFatal) > 0 {
		if err := o.rejectChainFatalBatch(ctx, tx, userID, chainState, toValidate, validation, result); err != nil {
			return abortResult(len(batch), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return abortResult(len(batch), fmt.Errorf("failed to commit sync transaction: %w", err))
		}
		committed = true
		o.publishAlerts(ctx, userID, result)
		return result, nil
	}

	finalBalance, err := o.applySurvivors(ctx, tx, userID, chainState, toValidate, validation, result)
	if err != nil {
		return abortResult(len(batch), fmt.Errorf("failed to apply survivors: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return abortResult(len(batch), fmt.Errorf("failed to commit sync transaction: %w", err))
	}
	committed = true
	if result.Success > 0 {
		o.bumpEpoch(ctx)
		if o.counters != nil {
			o.counters.RecordSyncBatchApplied()
		}
	}
	o.publishAlerts(ctx, userID, result)

	result.LastSyncedHash = chainState.CurrentHeadHash
	result.FinalBalance = finalBalance
	return result, nil
}

type admittedRow struct {
	tx                *database.OfflineTx
	preExistingSynced bool
}

// admit creates (or reuses) an OfflineTx row per incoming wire tx,
// honouring the global txHash uniqueness invariant.
func (o *Orchestrator) admit(ctx context.Context, tx pgx.Tx, userID string, batch []WireTx) ([]admittedRow, error) {
	rows := make([]admittedRow, 0, len(batch))
	var newCount int

	for _, w := range batch {
		existing, err := o.offlineTxs.GetByTxHash(ctx, tx, w.TxHash)
		if err == nil {
			rows = append(rows, admittedRow{tx: existing, preExistingSynced: existing.Status == database.TxSynced})
			continue
		}
		if !errors.Is(err, database.ErrOfflineTxNotFound) {
			return nil, err
		}
		row := &database.OfflineTx{
			ID:             NewID(),
			SenderPhone:    w.SenderPhone,
			RecipientPhone: w.RecipientPhone,
			AmountMinor:    w.AmountMinor,
			Timestamp:      w.Timestamp,
			Nonce:          w.Nonce,
			Payload:        w.Payload,
			TxHash:         w.TxHash,
			PreviousHash:   w.PreviousHash,
			Signature:      w.Signature,
			Status:         database.TxPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := o.offlineTxs.Create(ctx, tx, row); err != nil {
			return nil, err
		}
		rows = append(rows, admittedRow{tx: row})
		newCount++
	}

	if newCount > 0 {
		if err := o.chainStates.IncrementPendingCount(ctx, tx, userID, newCount); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// rejectWholeBatch implements the sticky chainValid==false rejection path.
func (o *Orchestrator) rejectWholeBatch(ctx context.Context, tx pgx.Tx, userID string, chainState *database.ChainState, rows []admittedRow, result *SyncResult) error {
	reason := "chain previously invalidated"
	if chainState.ValidationError != nil {
		reason = *chainState.ValidationError
	}
	recordedSummary := false
	for _, r := range rows {
		if r.preExistingSynced {
			continue
		}
		if err := o.offlineTxs.MarkFailed(ctx, tx, r.tx.ID, reason); err != nil {
			return err
		}
		if err := o.chainStates.MarkFailed(ctx, tx, userID); err != nil {
			return err
		}
		result.Failed++

		var conflict *database.SyncConflict
		if !recordedSummary {
			c, err := o.conflicts.Record(ctx, tx, r.tx.ID, userID, database.ConflictChainBroken, "chain valid", reason, nil, nil, r.tx.AmountMinor)
			if err != nil {
				return err
			}
			conflict = c
			result.Conflict++
			recordedSummary = true
		}
		result.Rejected = append(result.Rejected, TxOutcome{Tx: r.tx, Conflict: conflict})
	}
	result.LastSyncedHash = chainState.CurrentHeadHash
	return nil
}

// rejectChainFatalBatch enforces the "no ledger writes occur" rule:
// any CHAIN_BROKEN/INVALID_HASH finding fails the entire batch.
func (o *Orchestrator) rejectChainFatalBatch(ctx context.Context, tx pgx.Tx, userID string, chainState *database.ChainState, batch []*database.OfflineTx, validation *ValidationResult, result *SyncResult) error {
	var firstReason database.ConflictType
	for _, idx := range validation.Order {
		if detail, fatal := validation.ChainFatal[idx]; fatal {
			firstReason = detail.Type
			break
		}
	}

	for _, idx := range validation.Order {
		offlineTx := batch[idx]
		detail, isFatalHere := validation.ChainFatal[idx]

		reason := "batch aborted: " + string(firstReason)
		conflictType := database.ConflictChainBroken
		var expected, actual string
		if isFatalHere {
			reason = string(detail.Type)
			conflictType = detail.Type
			expected, actual = detail.Expected, detail.Actual
		}

		if err := o.offlineTxs.MarkFailed(ctx, tx, offlineTx.ID, reason); err != nil {
			return err
		}
		if err := o.chainStates.MarkFailed(ctx, tx, userID); err != nil {
			return err
		}
		result.Failed++

		conflict, err := o.conflicts.Record(ctx, tx, offlineTx.ID, userID, conflictType, expected, actual, nil, nil, offlineTx.AmountMinor)
		if err != nil {
			return err
		}
		result.Conflict++
		result.Rejected = append(result.Rejected, TxOutcome{Tx: offlineTx, Conflict: conflict})
	}

	if err := o.chainStates.Invalidate(ctx, tx, userID, string(firstReason)); err != nil {
		return err
	}
	result.LastSyncedHash = chainState.CurrentHeadHash
	return nil
}

// applySurvivors walks the validated batch in timestamp order, applying
// each transaction via the ledger and advancing the chain head, per
// the batch's main application loop.
func (o *Orchestrator) applySurvivors(ctx context.Context, tx pgx.Tx, userID string, chainState *database.ChainState, batch []*database.OfflineTx, validation *ValidationResult, result *SyncResult) (int64, error) {
	currentHead := chainState.CurrentHeadHash
	var finalBalance int64

	for _, idx := range validation.Order {
		t := batch[idx]

		if t.PreviousHash != currentHead {
			conflict, err := o.conflicts.Record(ctx, tx, t.ID, userID, database.ConflictChainBroken, currentHead, t.PreviousHash, nil, nil, t.AmountMinor)
			if err != nil {
				return 0, err
			}
			if err := o.offlineTxs.MarkFailed(ctx, tx, t.ID, "chain head moved"); err != nil {
				return 0, err
			}
			if err := o.chainStates.MarkFailed(ctx, tx, userID); err != nil {
				return 0, err
			}
			if err := o.chainStates.Invalidate(ctx, tx, userID, "chain head moved during batch application"); err != nil {
				return 0, err
			}
			result.Failed++
			result.Conflict++
			result.Rejected = append(result.Rejected, TxOutcome{Tx: t, Conflict: conflict})
			logger.Warn("sync: chain head moved mid-batch, aborting remainder",
				zap.String("user_id", userID), zap.String("tx_id", t.ID))
			break
		}

		if detail, conflicted := validation.PerTx[idx]; conflicted {
			conflict, err := o.conflicts.Record(ctx, tx, t.ID, userID, detail.Type, detail.Expected, detail.Actual, detail.ExpectedBalance, detail.ActualBalance, t.AmountMinor)
			if err != nil {
				return 0, err
			}
			if err := o.offlineTxs.MarkFailed(ctx, tx, t.ID, string(detail.Type)); err != nil {
				return 0, err
			}
			if err := o.chainStates.MarkFailed(ctx, tx, userID); err != nil {
				return 0, err
			}
			result.Failed++
			result.Conflict++
			result.Rejected = append(result.Rejected, TxOutcome{Tx: t, Conflict: conflict})
			continue
		}

		// Nonce admission runs before the ledger transfer: it's the
		// cheaper, purely additive write, so a reused nonce (a race
		// against another batch that admitted it between validation and
		// application) is caught before any balance moves, with nothing
		// to reverse.
		if err := o.nonces.Admit(ctx, tx, userID, t.Nonce, t.TxHash); err != nil {
			if errors.Is(err, database.ErrNonceReused) {
				conflict, cErr := o.conflicts.Record(ctx, tx, t.ID, userID, database.ConflictNonceReused, "unused nonce", t.Nonce, nil, nil, t.AmountMinor)
				if cErr != nil {
					return 0, cErr
				}
				if err := o.offlineTxs.MarkFailed(ctx, tx, t.ID, "nonce already used"); err != nil {
					return 0, err
				}
				if err := o.chainStates.MarkFailed(ctx, tx, userID); err != nil {
					return 0, err
				}
				result.Failed++
				result.Conflict++
				result.Rejected = append(result.Rejected, TxOutcome{Tx: t, Conflict: conflict})
				continue
			}
			return 0, err
		}

		transferResult, err := o.ledger.Transfer(ctx, tx, t.ID, t.SenderPhone, t.RecipientPhone, t.AmountMinor, t.TxHash)
		if err != nil {
			if errors.Is(err, database.ErrInsufficientFunds) {
				conflict, cErr := o.conflicts.Record(ctx, tx, t.ID, userID, database.ConflictInsufficientFunds, "sufficient balance", "insufficient balance", nil, nil, t.AmountMinor)
				if cErr != nil {
					return 0, cErr
				}
				if err := o.offlineTxs.MarkFailed(ctx, tx, t.ID, "insufficient funds"); err != nil {
					return 0, err
				}
				if err := o.chainStates.MarkFailed(ctx, tx, userID); err != nil {
					return 0, err
				}
				result.Failed++
				result.Conflict++
				result.Rejected = append(result.Rejected, TxOutcome{Tx: t, Conflict: conflict})
				continue
			}
			return 0, err
		}

		if err := o.offlineTxs.MarkSynced(ctx, tx, t.ID, transferResult.DebitEntry.ID); err != nil {
			return 0, err
		}
		if err := o.chainStates.MarkSynced(ctx, tx, userID, t.TxHash); err != nil {
			return 0, err
		}

		currentHead = t.TxHash
		finalBalance = transferResult.NewSenderBalance
		result.Success++
		result.Synced = append(result.Synced, TxOutcome{Tx: t})
	}

	chainState.CurrentHeadHash = currentHead
	return finalBalance, nil
}
