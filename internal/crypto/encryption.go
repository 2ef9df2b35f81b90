// Package crypto provides the AES-GCM payload cipher and key-derivation
// primitives shared by the offline sync engine's payload codec and
// signature verifier.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32 // AES-256 requires 32 bytes
	NonceSize = 12 // GCM standard nonce size
)

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns base64-encoded: nonce + ciphertext + tag.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesGcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := aesGcm.Seal(nil, nonce, []byte(plaintext), nil)
	result := append(nonce, ciphertext...)

	return base64.StdEncoding.EncodeToString(result), nil
}

// Decrypt decrypts AES-256-GCM encrypted data. Fails closed on any tag
// mismatch or malformed input — never returns partial plaintext.
func Decrypt(ciphertext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	if len(decoded) < NonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce := decoded[:NonceSize]
	cipherData := decoded[NonceSize:]

	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesGcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return "", err
	}

	plaintext, err := aesGcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", errors.New("decryption failed: invalid key or corrupted data")
	}

	return string(plaintext), nil
}

// GenerateKey generates a random 32-byte encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKeyPoC derives a 32-byte payload/signature key for the PoC key
// profile: SHA256(phone || ":" || pinDigest), truncated to KeySize (it
// already is exactly 32 bytes since SHA-256 is 32 bytes wide).
func DeriveKeyPoC(phone, pinDigest string) []byte {
	sum := sha256.Sum256([]byte(phone + ":" + pinDigest))
	return sum[:]
}

// DeriveKeyKMS derives a 32-byte key scoped to a single user from a
// KMS/root secret using HKDF-SHA256, for the production key profile.
// info binds the derived key to the user so a compromised derived key
// cannot be replayed against another user's payloads.
func DeriveKeyKMS(rootSecret []byte, userID string) ([]byte, error) {
	r := hkdf.New(sha256.New, rootSecret, nil, []byte("mobilemoney:offline-payload:"+userID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
