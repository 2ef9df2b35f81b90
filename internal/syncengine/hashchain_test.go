package syncengine

import (
	"testing"
	"time"

	"mobilemoney/internal/database"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalHash_DeterministicAndSensitiveToEveryField(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := CanonicalHash("+2340000001", "+2340000002", 5000, ts, "nonce-1", database.GenesisHash)

	assert.Equal(t, base, CanonicalHash("+2340000001", "+2340000002", 5000, ts, "nonce-1", database.GenesisHash))

	assert.NotEqual(t, base, CanonicalHash("+2340000003", "+2340000002", 5000, ts, "nonce-1", database.GenesisHash))
	assert.NotEqual(t, base, CanonicalHash("+2340000001", "+2340000002", 5001, ts, "nonce-1", database.GenesisHash))
	assert.NotEqual(t, base, CanonicalHash("+2340000001", "+2340000002", 5000, ts.Add(time.Second), "nonce-1", database.GenesisHash))
	assert.NotEqual(t, base, CanonicalHash("+2340000001", "+2340000002", 5000, ts, "nonce-2", database.GenesisHash))
	assert.NotEqual(t, base, CanonicalHash("+2340000001", "+2340000002", 5000, ts, "nonce-1", "deadbeef"))
}

func TestVerifyHash(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tx := &database.OfflineTx{
		SenderPhone:    "+2340000001",
		RecipientPhone: "+2340000002",
		AmountMinor:    5000,
		Timestamp:      ts,
		Nonce:          "nonce-1",
		PreviousHash:   database.GenesisHash,
	}
	tx.TxHash = CanonicalHash(tx.SenderPhone, tx.RecipientPhone, tx.AmountMinor, tx.Timestamp, tx.Nonce, tx.PreviousHash)
	assert.True(t, VerifyHash(tx))

	tx.TxHash = "tampered"
	assert.False(t, VerifyHash(tx))
}
