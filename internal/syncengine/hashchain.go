// Package syncengine implements the offline transaction sync protocol:
// hash-chain verification, replay protection, conflict detection, and
// atomic ledger application of a user's offline-created transaction batch.
package syncengine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"mobilemoney/internal/crypto"
	"mobilemoney/internal/database"
)

// CanonicalHash computes the chain-linking hash for one offline
// transaction: SHA256 over sender || recipient || amount || timestamp ||
// nonce || previousHash, each field in its canonical wire form.
func CanonicalHash(sender, recipient string, amountMinor int64, timestamp time.Time, nonce, previousHash string) string {
	h := sha256.New()
	h.Write([]byte(sender))
	h.Write([]byte(recipient))
	h.Write([]byte(FormatAmountMinor(amountMinor)))
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(nonce))
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHash recomputes a transaction's hash from its fields and compares
// it against the claimed txHash in constant time.
func VerifyHash(tx *database.OfflineTx) bool {
	recomputed := CanonicalHash(tx.SenderPhone, tx.RecipientPhone, tx.AmountMinor, tx.Timestamp, tx.Nonce, tx.PreviousHash)
	return crypto.ConstantTimeHexEqual(recomputed, tx.TxHash)
}
