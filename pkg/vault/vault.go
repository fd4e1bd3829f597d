package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// encPrefix marks a value as encrypted by this package. Stored values
// without the prefix are treated as legacy plaintext and returned as-is by
// Decrypt, which lets existing rows be migrated lazily on next write.
const encPrefix = "enc:v1:"

// Vault encrypts and decrypts credential values at rest. Each value is
// protected with AES-256-GCM under a key derived from the master key and the
// owning account identity. Safe for concurrent use.
type Vault struct {
	masterKey []byte
}

// New creates a Vault with the given 32-byte master key.
func New(masterKey []byte) (*Vault, error) {
	if err := ValidateMasterKey(masterKey); err != nil {
		return nil, err
	}

	// Copy to protect against external mutation of the key slice
	key := make([]byte, KeySize)
	copy(key, masterKey)

	return &Vault{masterKey: key}, nil
}

// Encrypt encrypts plaintext for the given account and returns the stored
// form: "enc:v1:" + base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(accountID, plaintext string) (string, error) {
	key, err := deriveKey(v.masterKey, accountID)
	if err != nil {
		return "", err
	}
	defer clearBytes(key)

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}

	// Prepend nonce to ciphertext so the stored value is self-contained
	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)

	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Values without the encryption marker are
// returned unchanged: they predate at-rest encryption.
func (v *Vault) Decrypt(accountID, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}

	key, err := deriveKey(v.masterKey, accountID)
	if err != nil {
		return "", err
	}
	defer clearBytes(key)

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the encryption marker.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, encPrefix)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
