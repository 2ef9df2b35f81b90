package syncengine

import (
	"context"
	"sort"
	"time"

	"mobilemoney/internal/crypto"
	"mobilemoney/internal/database"
)

// ValidatorConfig carries the tunables named in the configuration surface
// that the validator's payload pass checks against.
type ValidatorConfig struct {
	MaxAgeDays             int
	FutureToleranceMinutes int
	MaxAmountMinor         int64
}

// DefaultValidatorConfig mirrors the documented configuration defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAgeDays:             30,
		FutureToleranceMinutes: 5,
		MaxAmountMinor:         MaxAmountMinor,
	}
}

// ConflictDetail is one detected issue, carrying enough context for
// ConflictStore.Record and for the orchestrator's per-transaction decisions.
type ConflictDetail struct {
	Type            database.ConflictType
	Expected        string
	Actual          string
	ExpectedBalance *int64
	ActualBalance   *int64
}

// ValidationResult is the Validator's pure output: an ordering plus two
// independent maps of per-transaction findings, keyed by each
// transaction's position in the original batch slice.
type ValidationResult struct {
	// Order is the processing sequence: indices into the original batch,
	// sorted by timestamp ascending, ties broken by original position.
	Order []int
	// ChainFatal holds every CHAIN_BROKEN / INVALID_HASH finding: those of
	// the chain-integrity walk, plus the payload pass's out-of-cap amounts
	// and undecryptable payloads (both recorded as INVALID_HASH). Any
	// non-empty ChainFatal makes the whole batch
	// batch-fatal — no ledger writes occur for the batch.
	ChainFatal map[int]ConflictDetail
	// PerTx holds every other per-transaction finding (NONCE_REUSED,
	// TIMESTAMP_INVALID, INVALID_SIGNATURE, DOUBLE_SPEND-within-batch,
	// INSUFFICIENT_FUNDS/DOUBLE_SPEND from the balance projection).
	PerTx map[int]ConflictDetail
}

// Validator is C7: pure over its inputs plus read-only registry/balance
// access. It performs no mutations — every finding is a returned value,
// never raised as an exception for control flow.
type Validator struct {
	nonces *NonceRegistry
	ledger *Ledger
	cfg    ValidatorConfig
}

func NewValidator(nonces *NonceRegistry, ledger *Ledger, cfg ValidatorConfig) *Validator {
	return &Validator{nonces: nonces, ledger: ledger, cfg: cfg}
}

// Validate runs the chain-integrity, payload, and double-spend passes
// over batch for a single user's submission. q must be a read
// path — callers inside the orchestrator's transaction pass the same tx
// so reads observe uncommitted writes from earlier in the batch.
func (v *Validator) Validate(ctx context.Context, q database.DBTX, userID string, chainState *database.ChainState, batch []*database.OfflineTx, keyDesc crypto.KeyDescriptor, decryptKey []byte, now time.Time) (*ValidationResult, error) {
	order := sortByTimestamp(batch)
	result := &ValidationResult{
		Order:      order,
		ChainFatal: make(map[int]ConflictDetail),
		PerTx:      make(map[int]ConflictDetail),
	}

	v.chainIntegrityPass(chainState, batch, order, result)
	if err := v.payloadPass(ctx, q, userID, batch, order, keyDesc, decryptKey, now, result); err != nil {
		return nil, err
	}
	if err := v.doubleSpendPass(ctx, q, userID, batch, order, result); err != nil {
		return nil, err
	}
	return result, nil
}

func sortByTimestamp(batch []*database.OfflineTx) []int {
	order := make([]int, len(batch))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return batch[order[a]].Timestamp.Before(batch[order[b]].Timestamp)
	})
	return order
}

// chainIntegrityPass walks the batch in timestamp order checking for
// duplicate hashes/nonces, broken previous-hash links, and bad hashes.
func (v *Validator) chainIntegrityPass(chainState *database.ChainState, batch []*database.OfflineTx, order []int, result *ValidationResult) {
	seenHash := make(map[string]int)  // txHash -> first order position
	seenNonce := make(map[string]int) // nonce -> first order position

	for pos, idx := range order {
		tx := batch[idx]

		if firstPos, dup := seenHash[tx.TxHash]; dup {
			_ = firstPos
			result.PerTx[idx] = ConflictDetail{Type: database.ConflictDoubleSpend, Expected: "unique tx_hash", Actual: tx.TxHash}
		} else {
			seenHash[tx.TxHash] = pos
		}

		if firstPos, dup := seenNonce[tx.Nonce]; dup {
			_ = firstPos
			if _, already := result.PerTx[idx]; !already {
				result.PerTx[idx] = ConflictDetail{Type: database.ConflictNonceReused, Expected: "unique nonce", Actual: tx.Nonce}
			}
		} else {
			seenNonce[tx.Nonce] = pos
		}

		var expectedPrev string
		if pos == 0 {
			expectedPrev = chainState.LastSyncedHash
		} else {
			expectedPrev = batch[order[pos-1]].TxHash
		}
		if tx.PreviousHash != expectedPrev {
			result.ChainFatal[idx] = ConflictDetail{Type: database.ConflictChainBroken, Expected: expectedPrev, Actual: tx.PreviousHash}
			continue
		}

		if !VerifyHash(tx) {
			recomputed := CanonicalHash(tx.SenderPhone, tx.RecipientPhone, tx.AmountMinor, tx.Timestamp, tx.Nonce, tx.PreviousHash)
			result.ChainFatal[idx] = ConflictDetail{Type: database.ConflictInvalidHash, Expected: recomputed, Actual: tx.TxHash}
			continue
		}

		if pos > 0 {
			prevTs := batch[order[pos-1]].Timestamp
			if tx.Timestamp.Before(prevTs) {
				result.ChainFatal[idx] = ConflictDetail{Type: database.ConflictChainBroken, Expected: "non-decreasing timestamp", Actual: tx.Timestamp.String()}
			}
		}
	}
}

// payloadPass runs the per-transaction payload checks: amount bounds,
// timestamp window, nonce reuse, signature, and decryptability.
func (v *Validator) payloadPass(ctx context.Context, q database.DBTX, userID string, batch []*database.OfflineTx, order []int, keyDesc crypto.KeyDescriptor, decryptKey []byte, now time.Time, result *ValidationResult) error {
	minTime := now.AddDate(0, 0, -v.cfg.MaxAgeDays)
	maxTime := now.Add(time.Duration(v.cfg.FutureToleranceMinutes) * time.Minute)

	for _, idx := range order {
		if _, fatal := result.ChainFatal[idx]; fatal {
			continue
		}
		tx := batch[idx]

		if tx.AmountMinor <= 0 || tx.AmountMinor > v.cfg.MaxAmountMinor {
			// Malformed amount is treated the same as a corrupted payload:
			// batch-fatal, not a recoverable per-transaction conflict.
			result.ChainFatal[idx] = ConflictDetail{Type: database.ConflictInvalidHash, Expected: "amount within cap", Actual: FormatAmountMinor(tx.AmountMinor)}
			continue
		}

		if tx.Timestamp.Before(minTime) || tx.Timestamp.After(maxTime) {
			setIfAbsent(result, idx, ConflictDetail{Type: database.ConflictTimestampInvalid, Expected: "timestamp within window", Actual: tx.Timestamp.String()})
			continue
		}

		exists, err := v.nonces.Exists(ctx, q, tx.Nonce)
		if err != nil {
			return err
		}
		if exists {
			setIfAbsent(result, idx, ConflictDetail{Type: database.ConflictNonceReused, Expected: "unused nonce", Actual: tx.Nonce})
			continue
		}

		if err := crypto.Verify(keyDesc, tx.TxHash, tx.Signature); err != nil {
			setIfAbsent(result, idx, ConflictDetail{Type: database.ConflictInvalidSignature, Expected: "valid signature", Actual: tx.Signature})
			continue
		}

		if _, err := DecryptPayload(tx.Payload, decryptKey); err != nil {
			result.ChainFatal[idx] = ConflictDetail{Type: database.ConflictInvalidHash, Expected: "decryptable payload", Actual: "decryption failed"}
		}
	}
	return nil
}

func setIfAbsent(result *ValidationResult, idx int, detail ConflictDetail) {
	if _, already := result.PerTx[idx]; !already {
		result.PerTx[idx] = detail
	}
}

// doubleSpendPass walks a projected balance across the batch, taking
// transaction direction from senderPhone/recipientPhone rather than a
// transaction-type field.
func (v *Validator) doubleSpendPass(ctx context.Context, q database.DBTX, userID string, batch []*database.OfflineTx, order []int, result *ValidationResult) error {
	balance, err := v.ledger.Balance(ctx, q, userID)
	if err != nil {
		return err
	}

	projected := balance
	for _, idx := range order {
		if _, fatal := result.ChainFatal[idx]; fatal {
			continue
		}
		if _, already := result.PerTx[idx]; already {
			continue
		}
		tx := batch[idx]

		switch {
		case tx.SenderPhone == userID:
			projected -= tx.AmountMinor
		case tx.RecipientPhone == userID:
			projected += tx.AmountMinor
		default:
			continue
		}

		if projected < 0 {
			expectedBalance := balance
			actualBalance := projected
			// A debit that on-hand funds plus the batch's credits would cover
			// on its own, but not together with the batch's other debits,
			// is a double spend; a debit larger than those funds is not.
			typ := database.ConflictInsufficientFunds
			available := balance + totalCredits(batch, order, userID)
			if tx.AmountMinor <= available && available < totalDebits(batch, order, userID) {
				typ = database.ConflictDoubleSpend
			}
			result.PerTx[idx] = ConflictDetail{
				Type:            typ,
				Expected:        "non-negative balance",
				Actual:          FormatAmountMinor(projected),
				ExpectedBalance: &expectedBalance,
				ActualBalance:   &actualBalance,
			}
			// Reverse this entry's effect so later entries are projected
			// against the balance as it would actually stand once this
			// one is rejected.
			switch {
			case tx.SenderPhone == userID:
				projected += tx.AmountMinor
			case tx.RecipientPhone == userID:
				projected -= tx.AmountMinor
			}
		}
	}
	return nil
}

func totalDebits(batch []*database.OfflineTx, order []int, userID string) int64 {
	var sum int64
	for _, idx := range order {
		if batch[idx].SenderPhone == userID {
			sum += batch[idx].AmountMinor
		}
	}
	return sum
}

func totalCredits(batch []*database.OfflineTx, order []int, userID string) int64 {
	var sum int64
	for _, idx := range order {
		if batch[idx].RecipientPhone == userID {
			sum += batch[idx].AmountMinor
		}
	}
	return sum
}
