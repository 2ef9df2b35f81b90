package crypto

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// KeyProfile selects which signature scheme a user's key descriptor maps to.
type KeyProfile string

const (
	// ProfilePoC signs with HMAC-SHA256 over a key derived from the
	// device PIN — no asymmetric keypair required.
	ProfilePoC KeyProfile = "poc"
	// ProfileProduction signs with RSA-PKCS1v15-SHA256 over the user's
	// enrolled device public key.
	ProfileProduction KeyProfile = "production"
)

var (
	ErrUnknownKeyProfile  = errors.New("crypto: unknown key profile")
	ErrSignatureMismatch  = errors.New("crypto: signature does not verify")
	ErrMissingSigningData = errors.New("crypto: missing key material for signing")
)

// KeyDescriptor names the signature scheme and key material for one user.
// Exactly one of HMACKey / RSAPublicKey is populated depending on Profile;
// the descriptor carries no private key.
type KeyDescriptor struct {
	Profile      KeyProfile
	HMACKey      []byte
	RSAPublicKey *rsa.PublicKey
}

// SignHMAC produces the wire-format (base64) signature over a hex-encoded
// tx hash, using the PoC HMAC-SHA256 scheme. Device-side helper — the
// server only ever verifies, but tests and the sync-replay fixtures need
// a matching signer.
func SignHMAC(txHashHex string, hmacKey []byte) string {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write([]byte(txHashHex))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignRSA produces the wire-format (base64) signature over a hex-encoded
// tx hash using RSA-PKCS1v15-SHA256. Device-side helper for tests.
func SignRSA(txHashHex string, priv *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(txHashHex))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature over a hex-encoded tx hash against the
// descriptor's configured scheme. Constant-time for the HMAC path.
func Verify(desc KeyDescriptor, txHashHex, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return ErrSignatureMismatch
	}

	switch desc.Profile {
	case ProfilePoC:
		if len(desc.HMACKey) == 0 {
			return ErrMissingSigningData
		}
		mac := hmac.New(sha256.New, desc.HMACKey)
		mac.Write([]byte(txHashHex))
		expected := mac.Sum(nil)
		if subtle.ConstantTimeCompare(expected, sig) != 1 {
			return ErrSignatureMismatch
		}
		return nil
	case ProfileProduction:
		if desc.RSAPublicKey == nil {
			return ErrMissingSigningData
		}
		digest := sha256.Sum256([]byte(txHashHex))
		if err := rsa.VerifyPKCS1v15(desc.RSAPublicKey, crypto.SHA256, digest[:], sig); err != nil {
			return ErrSignatureMismatch
		}
		return nil
	default:
		return ErrUnknownKeyProfile
	}
}

// ConstantTimeHexEqual compares two hex strings byte-wise in constant
// time, used by the hash chain verifier.
func ConstantTimeHexEqual(a, b string) bool {
	da, err1 := hex.DecodeString(a)
	db, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil {
		return false
	}
	if len(da) != len(db) {
		return false
	}
	return subtle.ConstantTimeCompare(da, db) == 1
}
