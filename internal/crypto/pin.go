package crypto

import "golang.org/x/crypto/bcrypt"

// HashPIN produces the stored PIN digest referenced by the PoC key
// derivation formula (storedPinDigest). Never store the raw PIN.
func HashPIN(pin string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPIN checks a raw PIN against its stored digest.
func VerifyPIN(pin, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(pin)) == nil
}
