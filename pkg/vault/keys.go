package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the required size of the master key
	KeySize = 32 // 256 bits for AES-256

	// derivationInfo provides domain separation for HKDF key derivation
	derivationInfo = "postflow-vault-v1"
)

// ValidateMasterKey checks that the master key has the correct length.
func ValidateMasterKey(masterKey []byte) error {
	if len(masterKey) != KeySize {
		return ErrInvalidMasterKey
	}
	return nil
}

// deriveKey derives a per-account encryption key from the master key using
// HKDF-SHA-256 with the account identity as salt. Credentials of different
// accounts are therefore never encrypted under the same key.
// The caller is responsible for clearing the returned key with clearBytes()
// when it is no longer needed.
func deriveKey(masterKey []byte, accountID string) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, masterKey, []byte(accountID), []byte(derivationInfo))

	derivedKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdfReader, derivedKey); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}

	return derivedKey, nil
}

// clearBytes zeros out a byte slice to remove key material from memory.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKey creates a new random 32-byte key suitable for use as master key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
