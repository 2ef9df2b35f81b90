//go:build integration

package syncengine

import (
	"context"
	"testing"

	"mobilemoney/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollment_EnrollAndVerifyPIN(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ledgerRepo := database.NewLedgerRepository()
	phone := "+2349070000000"
	require.NoError(t, ledgerRepo.EnsureAccount(context.Background(), db.Pool(), phone))

	enrollment := NewEnrollment(ledgerRepo)
	require.NoError(t, enrollment.EnrollPIN(context.Background(), db.Pool(), phone, "4417"))

	assert.NoError(t, enrollment.VerifyPIN(context.Background(), db.Pool(), phone, "4417"))
	assert.ErrorIs(t, enrollment.VerifyPIN(context.Background(), db.Pool(), phone, "0000"), ErrPINMismatch)
}

func TestEnrollment_VerifyPIN_NeverEnrolledIsNotFound(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ledgerRepo := database.NewLedgerRepository()
	phone := "+2349070000001"
	require.NoError(t, ledgerRepo.EnsureAccount(context.Background(), db.Pool(), phone))

	enrollment := NewEnrollment(ledgerRepo)
	err := enrollment.VerifyPIN(context.Background(), db.Pool(), phone, "1234")
	assert.ErrorIs(t, err, database.ErrAccountNotFound)
}

func TestEnrollment_VerifyPIN_UnknownAccountIsNotFound(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	enrollment := NewEnrollment(database.NewLedgerRepository())
	err := enrollment.VerifyPIN(context.Background(), db.Pool(), "+2349070000002", "1234")
	assert.ErrorIs(t, err, database.ErrAccountNotFound)
}
