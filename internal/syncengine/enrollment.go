package syncengine

import (
	"context"
	"errors"
	"fmt"

	"mobilemoney/internal/crypto"
	"mobilemoney/internal/database"
)

// ErrPINMismatch is returned when a submitted PIN doesn't match the
// account's stored digest.
var ErrPINMismatch = errors.New("syncengine: pin does not match")

// Enrollment binds a phone number's device PIN to the PoC key-derivation
// profile: the server only ever holds the bcrypt digest, the device
// derives its HMAC signing key from the same PIN independently.
type Enrollment struct {
	repo *database.LedgerRepository
}

func NewEnrollment(repo *database.LedgerRepository) *Enrollment {
	return &Enrollment{repo: repo}
}

// EnrollPIN hashes pin and stores its digest against phone. The account
// row must already exist.
func (e *Enrollment) EnrollPIN(ctx context.Context, q database.DBTX, phone, pin string) error {
	digest, err := crypto.HashPIN(pin)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	return e.repo.SetPINDigest(ctx, q, phone, digest)
}

// VerifyPIN checks pin against phone's stored digest, returning
// ErrPINMismatch if it doesn't match and database.ErrAccountNotFound if
// the phone has never enrolled one.
func (e *Enrollment) VerifyPIN(ctx context.Context, q database.DBTX, phone, pin string) error {
	digest, err := e.repo.PINDigest(ctx, q, phone)
	if err != nil {
		return err
	}
	if !crypto.VerifyPIN(pin, digest) {
		return ErrPINMismatch
	}
	return nil
}
