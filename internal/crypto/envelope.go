// Package crypto implements the envelope encryption primitives used for
// secret values: AES-256-GCM ciphers for data keys and blind indexing for
// equality lookups over encrypted keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required symmetric key length in bytes.
	KeySize = 32

	// IVSize is the GCM nonce length in bytes.
	IVSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrDecryptionFailed is returned when a ciphertext fails authentication.
// The underlying cipher error is deliberately not exposed.
var ErrDecryptionFailed = errors.New("decryption failed")

// EncryptedValue is a single AES-256-GCM encryption result with the tag split
// off the ciphertext, matching how the columns are persisted.
type EncryptedValue struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Cipher performs AES-256-GCM encryption and decryption under a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt encrypts plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte) (*EncryptedValue, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	n := len(sealed) - TagSize
	return &EncryptedValue{
		Ciphertext: sealed[:n],
		IV:         iv,
		Tag:        sealed[n:],
	}, nil
}

// Decrypt authenticates and decrypts an EncryptedValue.
func (c *Cipher) Decrypt(v *EncryptedValue) ([]byte, error) {
	if len(v.IV) != IVSize || len(v.Tag) != TagSize {
		return nil, ErrDecryptionFailed
	}
	sealed := make([]byte, 0, len(v.Ciphertext)+TagSize)
	sealed = append(sealed, v.Ciphertext...)
	sealed = append(sealed, v.Tag...)

	plaintext, err := c.aead.Open(nil, v.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
