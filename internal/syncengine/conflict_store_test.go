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

func TestConflictStore_RecordAndListUnresolved(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	store := NewConflictStore(database.NewConflictRepository())
	ctx := context.Background()
	userID := "+2349020000000"

	conflict, err := store.Record(ctx, db.Pool(), NewID(), userID, database.ConflictInsufficientFunds, "non-negative balance", "-500.00", nil, nil, 50000)
	require.NoError(t, err)
	assert.Contains(t, conflict.Description, "too low")

	list, err := store.ListUnresolved(ctx, db.Pool(), userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conflict.ID, list[0].ID)
}

func TestConflictStore_ResolveAndPrune(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	store := NewConflictStore(database.NewConflictRepository())
	ctx := context.Background()
	userID := "+2349020000001"

	conflict, err := store.Record(ctx, db.Pool(), NewID(), userID, database.ConflictNonceReused, "unused nonce", "dup-nonce", nil, nil, 2000)
	require.NoError(t, err)

	require.NoError(t, store.Resolve(ctx, db.Pool(), conflict.ID, database.ConflictAutoResolved, "system", nil))

	list, err := store.ListUnresolved(ctx, db.Pool(), userID)
	require.NoError(t, err)
	assert.Empty(t, list)

	count, err := store.PruneResolved(ctx, db.Pool(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
