package syncengine

import "mobilemoney/internal/crypto"

// DecryptPayload inverts the device-side AES-GCM encryption of a
// transaction's description/metadata blob, failing closed on any tag
// mismatch or malformed ciphertext.
func DecryptPayload(payloadB64 string, key []byte) (string, error) {
	return crypto.Decrypt(payloadB64, key)
}

// EncryptPayload produces the base64(IV || ciphertext || tag) wire form,
// used by tests and any server-originated transaction metadata.
func EncryptPayload(plaintext string, key []byte) (string, error) {
	return crypto.Encrypt(plaintext, key)
}
