package syncengine

import (
	"testing"

	"mobilemoney/internal/database"

	"github.com/stretchr/testify/assert"
)

func TestExplain_MentionsAmountAndMatchesType(t *testing.T) {
	cases := []struct {
		typ      database.ConflictType
		contains string
	}{
		{database.ConflictDoubleSpend, "already been applied"},
		{database.ConflictInsufficientFunds, "too low"},
		{database.ConflictInvalidSignature, "signature"},
		{database.ConflictNonceReused, "possible replay"},
		{database.ConflictInvalidHash, "corrupted"},
		{database.ConflictChainBroken, "broke the transaction chain"},
		{database.ConflictTimestampInvalid, "accepted window"},
	}
	for _, c := range cases {
		msg := Explain(c.typ, 150000, "exp", "act")
		assert.Contains(t, msg, "₦1500.00", "type %s", c.typ)
		assert.Contains(t, msg, c.contains, "type %s", c.typ)
	}
}

func TestExplain_ChainBrokenIncludesExpectedAndActual(t *testing.T) {
	msg := Explain(database.ConflictChainBroken, 1000, "hash-expected", "hash-actual")
	assert.Contains(t, msg, "hash-expected")
	assert.Contains(t, msg, "hash-actual")
}
