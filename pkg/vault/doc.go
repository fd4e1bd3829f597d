// Package vault provides at-rest encryption for OAuth credentials.
//
// Each value is encrypted with AES-256 in GCM mode under a key derived from
// a 32-byte master key and the owning account identity via HKDF-SHA-256.
// The nonce is prepended to the ciphertext and the whole value is stored as
// base64 behind an "enc:v1:" marker, so a stored value is self-contained
// and versioned.
//
// # Legacy plaintext
//
// Decrypt returns values without the encryption marker unchanged. This
// allows rows written before encryption was introduced to keep working;
// they are re-encrypted the next time the credential is persisted.
//
// # Usage
//
//	masterKey, _ := vault.GenerateKey()
//	v, err := vault.New(masterKey)
//	if err != nil {
//	    // handle error
//	}
//
//	stored, err := v.Encrypt(accountID, accessToken)
//	plain, err := v.Decrypt(accountID, stored)
//
// # Error Handling
//
// All functions return errors wrapping package sentinels such as
// ErrDecryptionFailed or ErrInvalidCiphertext; match with errors.Is.
package vault
