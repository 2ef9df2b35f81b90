//go:build integration

package syncengine

import (
	"context"
	"testing"
	"time"

	"mobilemoney/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceRegistry_AdmitAndExists(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	registry := NewNonceRegistry(database.NewUsedNonceRepository())
	ctx := context.Background()
	userID := "+2349030000000"

	exists, err := registry.Exists(ctx, db.Pool(), "nonce-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, registry.Admit(ctx, db.Pool(), userID, "nonce-1", "hash-1"))

	exists, err = registry.Exists(ctx, db.Pool(), "nonce-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNonceRegistry_Exists_IsGlobalAcrossUsers(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	registry := NewNonceRegistry(database.NewUsedNonceRepository())
	ctx := context.Background()

	require.NoError(t, registry.Admit(ctx, db.Pool(), "+2349030000010", "cross-user-nonce", "hash-a"))

	exists, err := registry.Exists(ctx, db.Pool(), "cross-user-nonce")
	require.NoError(t, err)
	assert.True(t, exists, "replay protection is global, not scoped to the admitting user")
}

func TestNonceRegistry_Admit_Reused(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	registry := NewNonceRegistry(database.NewUsedNonceRepository())
	ctx := context.Background()
	userID := "+2349030000001"

	require.NoError(t, registry.Admit(ctx, db.Pool(), userID, "nonce-dup", "hash-a"))
	err := registry.Admit(ctx, db.Pool(), userID, "nonce-dup", "hash-b")
	assert.ErrorIs(t, err, database.ErrNonceReused)
}

func TestNonceRegistry_SweepExpired(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	registry := NewNonceRegistry(database.NewUsedNonceRepository())
	repo := database.NewUsedNonceRepository()
	ctx := context.Background()
	userID := "+2349030000002"

	now := time.Now().UTC()
	require.NoError(t, repo.Record(ctx, db.Pool(), &database.UsedNonce{
		Nonce: "expired", UserID: userID, UsedAt: now.Add(-8 * 24 * time.Hour), ExpiresAt: now.Add(-time.Hour), TxHash: "hash-x",
	}))
	require.NoError(t, registry.Admit(ctx, db.Pool(), userID, "fresh", "hash-y"))

	count, err := registry.SweepExpired(ctx, db.Pool())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNewID_ProducesDistinctValues(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
