//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_EnsureAccountAndGetAccount(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository()
	ctx := context.Background()
	phone := "+2348060000000"

	require.NoError(t, repo.EnsureAccount(ctx, db.Pool(), phone))
	acc, err := repo.GetAccount(ctx, db.Pool(), phone)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)

	// Idempotent
	require.NoError(t, repo.EnsureAccount(ctx, db.Pool(), phone))
}

func TestLedgerRepository_GetAccount_NotFound(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository()
	_, err := repo.GetAccount(context.Background(), db.Pool(), "+2348060000099")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLedgerRepository_ApplyCreditAndDebit(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository()
	ctx := context.Background()
	phone := "+2348060000001"

	require.NoError(t, repo.EnsureAccount(ctx, db.Pool(), phone))

	newBalance, err := repo.ApplyCredit(ctx, db.Pool(), phone, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), newBalance)

	newBalance, err = repo.ApplyDebit(ctx, db.Pool(), phone, 4000)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), newBalance)
}

func TestLedgerRepository_ApplyDebit_InsufficientFunds(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository()
	ctx := context.Background()
	phone := "+2348060000002"

	require.NoError(t, repo.EnsureAccount(ctx, db.Pool(), phone))
	_, err := repo.ApplyDebit(ctx, db.Pool(), phone, 500)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func newTestLedgerEntry(userID string, typ LedgerEntryType, amount int64, createdAt time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        typ,
		Category:    "transfer",
		AmountMinor: amount,
		Reference:   "ref-" + uuid.New().String(),
		Status:      LedgerPosted,
		CreatedAt:   createdAt,
	}
}

func TestLedgerRepository_ListByUser_NewestFirst(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository()
	ctx := context.Background()
	userID := "+2348060000003"

	now := time.Now().UTC()
	older := newTestLedgerEntry(userID, Debit, 1000, now.Add(-time.Hour))
	newer := newTestLedgerEntry(userID, Credit, 2000, now)
	require.NoError(t, repo.InsertEntry(ctx, db.Pool(), older))
	require.NoError(t, repo.InsertEntry(ctx, db.Pool(), newer))

	list, err := repo.ListByUser(ctx, db.Pool(), userID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestLedgerRepository_ListSinceByUser_OldestFirstWithinWindow(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository()
	ctx := context.Background()
	userID := "+2348060000004"

	now := time.Now().UTC()
	tooOld := newTestLedgerEntry(userID, Debit, 500, now.Add(-48*time.Hour))
	inWindowFirst := newTestLedgerEntry(userID, Credit, 1500, now.Add(-time.Hour))
	inWindowSecond := newTestLedgerEntry(userID, Debit, 700, now.Add(-time.Minute))
	require.NoError(t, repo.InsertEntry(ctx, db.Pool(), tooOld))
	require.NoError(t, repo.InsertEntry(ctx, db.Pool(), inWindowFirst))
	require.NoError(t, repo.InsertEntry(ctx, db.Pool(), inWindowSecond))

	since := now.Add(-24 * time.Hour)
	list, err := repo.ListSinceByUser(ctx, db.Pool(), userID, since)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, inWindowFirst.ID, list[0].ID)
	assert.Equal(t, inWindowSecond.ID, list[1].ID)
}
