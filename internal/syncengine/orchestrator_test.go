//go:build integration

package syncengine

import (
	"context"
	"testing"
	"time"

	"mobilemoney/internal/crypto"
	"mobilemoney/internal/database"
	"mobilemoney/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(db *database.DB) *Orchestrator {
	chainStates := NewChainStateStore(database.NewChainStateRepository())
	ledger := NewLedger(database.NewLedgerRepository())
	conflicts := NewConflictStore(database.NewConflictRepository())
	nonces := NewNonceRegistry(database.NewUsedNonceRepository())
	validator := NewValidator(nonces, ledger, DefaultValidatorConfig())
	return NewOrchestrator(db, database.NewOfflineTxRepository(), chainStates, ledger, conflicts, nonces, validator)
}

func signedWireTx(hmacKey []byte, sender, recipient string, amountMinor int64, ts time.Time, nonce, previousHash string) WireTx {
	payload, _ := EncryptPayload("lunch money", hmacKey)
	hash := CanonicalHash(sender, recipient, amountMinor, ts, nonce, previousHash)
	return WireTx{
		SenderPhone: sender, RecipientPhone: recipient, AmountMinor: amountMinor,
		Timestamp: ts, Nonce: nonce, Payload: payload, TxHash: hash,
		PreviousHash: previousHash, Signature: crypto.SignHMAC(hash, hmacKey),
	}
}

func TestOrchestrator_Sync_AppliesSurvivorsAndBumpsEpoch(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	orchestrator := newTestOrchestrator(db)
	counters := telemetry.New()
	orchestrator.SetCounters(counters)

	bumped := 0
	orchestrator.SetEpochBumper(epochBumperFunc(func(ctx context.Context) error {
		bumped++
		return nil
	}))

	sender, recipient := "+2349050000000", "+2349050000001"
	require.NoError(t, database.NewLedgerRepository().EnsureAccount(context.Background(), db.Pool(), sender))
	_, err := database.NewLedgerRepository().ApplyCredit(context.Background(), db.Pool(), sender, 20000)
	require.NoError(t, err)

	hmacKey := []byte("0123456789abcdef0123456789abcdef")
	keyDesc := crypto.KeyDescriptor{Profile: crypto.ProfilePoC, HMACKey: hmacKey}

	now := time.Now().UTC()
	wire := signedWireTx(hmacKey, sender, recipient, 5000, now, "orch-nonce-1", database.GenesisHash)

	result, err := orchestrator.Sync(context.Background(), sender, []WireTx{wire}, keyDesc, hmacKey)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(15000), result.FinalBalance)
	assert.Equal(t, 1, bumped)
	assert.Equal(t, int64(1), counters.Snapshot().SyncBatchesApplied)
}

func TestOrchestrator_Sync_IdempotentReplayIsNotReapplied(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	orchestrator := newTestOrchestrator(db)

	sender, recipient := "+2349050000002", "+2349050000003"
	require.NoError(t, database.NewLedgerRepository().EnsureAccount(context.Background(), db.Pool(), sender))
	_, err := database.NewLedgerRepository().ApplyCredit(context.Background(), db.Pool(), sender, 20000)
	require.NoError(t, err)

	hmacKey := []byte("0123456789abcdef0123456789abcdef")
	keyDesc := crypto.KeyDescriptor{Profile: crypto.ProfilePoC, HMACKey: hmacKey}

	now := time.Now().UTC()
	wire := signedWireTx(hmacKey, sender, recipient, 5000, now, "orch-nonce-replay", database.GenesisHash)

	first, err := orchestrator.Sync(context.Background(), sender, []WireTx{wire}, keyDesc, hmacKey)
	require.NoError(t, err)
	require.Equal(t, 1, first.Success)

	second, err := orchestrator.Sync(context.Background(), sender, []WireTx{wire}, keyDesc, hmacKey)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Success)
	assert.Equal(t, 1, second.Conflict)

	balance, err := database.NewLedgerRepository().GetAccount(context.Background(), db.Pool(), sender)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance.Balance)
}

func TestOrchestrator_Sync_PublishesAlertForDoubleSpendReplay(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	orchestrator := newTestOrchestrator(db)

	published := []string{}
	orchestrator.SetAlertPublisher(alertPublisherFunc(func(ctx context.Context, stream string, data []byte) (string, error) {
		published = append(published, stream)
		return "alert-id", nil
	}))

	sender, recipient := "+2349050000004", "+2349050000005"
	require.NoError(t, database.NewLedgerRepository().EnsureAccount(context.Background(), db.Pool(), sender))
	_, err := database.NewLedgerRepository().ApplyCredit(context.Background(), db.Pool(), sender, 20000)
	require.NoError(t, err)

	hmacKey := []byte("0123456789abcdef0123456789abcdef")
	keyDesc := crypto.KeyDescriptor{Profile: crypto.ProfilePoC, HMACKey: hmacKey}

	now := time.Now().UTC()
	wire := signedWireTx(hmacKey, sender, recipient, 5000, now, "orch-nonce-alert", database.GenesisHash)

	_, err = orchestrator.Sync(context.Background(), sender, []WireTx{wire}, keyDesc, hmacKey)
	require.NoError(t, err)
	assert.Empty(t, published)

	_, err = orchestrator.Sync(context.Background(), sender, []WireTx{wire}, keyDesc, hmacKey)
	require.NoError(t, err)
	assert.Equal(t, []string{conflictAlertStream}, published)
}

func TestOrchestrator_Sync_RejectsNonceReusedAcrossDifferentUsers(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	orchestrator := newTestOrchestrator(db)
	ledgerRepo := database.NewLedgerRepository()

	alice, bob, carol := "+2349060000000", "+2349060000001", "+2349060000002"
	require.NoError(t, ledgerRepo.EnsureAccount(context.Background(), db.Pool(), alice))
	_, err := ledgerRepo.ApplyCredit(context.Background(), db.Pool(), alice, 20000)
	require.NoError(t, err)
	require.NoError(t, ledgerRepo.EnsureAccount(context.Background(), db.Pool(), carol))
	_, err = ledgerRepo.ApplyCredit(context.Background(), db.Pool(), carol, 20000)
	require.NoError(t, err)

	hmacKey := []byte("0123456789abcdef0123456789abcdef")
	keyDesc := crypto.KeyDescriptor{Profile: crypto.ProfilePoC, HMACKey: hmacKey}
	now := time.Now().UTC()

	aliceWire := signedWireTx(hmacKey, alice, bob, 5000, now, "shared-nonce-across-users", database.GenesisHash)
	first, err := orchestrator.Sync(context.Background(), alice, []WireTx{aliceWire}, keyDesc, hmacKey)
	require.NoError(t, err)
	require.Equal(t, 1, first.Success)
	require.Nil(t, first.Failure)

	// carol submits an otherwise-unrelated transfer that happens to reuse
	// the same nonce alice's transfer already admitted. The used_nonces
	// unique index is global, so this must be caught even though carol
	// never saw alice's transaction.
	carolWire := signedWireTx(hmacKey, carol, bob, 1000, now, "shared-nonce-across-users", database.GenesisHash)
	second, err := orchestrator.Sync(context.Background(), carol, []WireTx{carolWire}, keyDesc, hmacKey)
	require.NoError(t, err)
	assert.Nil(t, second.Failure)
	assert.Equal(t, 0, second.Success)
	assert.Equal(t, 1, second.Failed)
	require.Len(t, second.Rejected, 1)
	assert.Equal(t, database.ConflictNonceReused, second.Rejected[0].Conflict.Type)

	balance, err := ledgerRepo.GetAccount(context.Background(), db.Pool(), carol)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), balance.Balance, "carol's rejected transfer must not move any funds")
}

func TestOrchestrator_ApplySurvivors_NonceReusedMidBatchRecordsConflictAndContinues(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	orchestrator := newTestOrchestrator(db)
	ledgerRepo := database.NewLedgerRepository()

	sender, recipient := "+2349060000003", "+2349060000004"
	require.NoError(t, ledgerRepo.EnsureAccount(context.Background(), db.Pool(), sender))
	_, err := ledgerRepo.ApplyCredit(context.Background(), db.Pool(), sender, 20000)
	require.NoError(t, err)

	hmacKey := []byte("0123456789abcdef0123456789abcdef")
	now := time.Now().UTC()

	wire1 := signedWireTx(hmacKey, sender, recipient, 3000, now, "midbatch-nonce-1", database.GenesisHash)
	wire2 := signedWireTx(hmacKey, sender, recipient, 2000, now.Add(time.Second), "midbatch-nonce-2", wire1.TxHash)

	tx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	chainState, err := orchestrator.chainStates.LoadOrCreate(context.Background(), tx, sender)
	require.NoError(t, err)

	rows, err := orchestrator.admit(context.Background(), tx, sender, []WireTx{wire1, wire2})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Simulate a concurrent batch admitting wire2's nonce after this
	// batch's validation pass already found it free.
	require.NoError(t, orchestrator.nonces.Admit(context.Background(), tx, "+2349060000099", "midbatch-nonce-2", "unrelated-hash"))

	validation := &ValidationResult{
		Order:      []int{0, 1},
		ChainFatal: map[int]ConflictDetail{},
		PerTx:      map[int]ConflictDetail{},
	}
	result := &SyncResult{Total: 2}

	finalBalance, err := orchestrator.applySurvivors(context.Background(), tx, sender, chainState, []*database.OfflineTx{rows[0].tx, rows[1].tx}, validation, result)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Conflict)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, database.ConflictNonceReused, result.Rejected[0].Conflict.Type)
	assert.Equal(t, int64(17000), finalBalance, "only the first transfer's debit should have landed")
}

type epochBumperFunc func(ctx context.Context) error

func (f epochBumperFunc) BumpEpoch(ctx context.Context) error { return f(ctx) }

type alertPublisherFunc func(ctx context.Context, stream string, data []byte) (string, error)

func (f alertPublisherFunc) Publish(ctx context.Context, stream string, data []byte) (string, error) {
	return f(ctx, stream, data)
}
