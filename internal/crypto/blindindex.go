package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters for blind index derivation. Deterministic, so the same
// key always hashes to the same index within a project.
const (
	blindIndexTime    = 3
	blindIndexMemory  = 64 * 1024
	blindIndexThreads = 4
	blindIndexLength  = 32

	indexSaltInfo = "keyfold/blind-index/v1"
)

// BlindIndexer derives deterministic equality indexes over secret keys so
// point lookups never require decrypting the stored rows.
type BlindIndexer struct {
	salt []byte
}

// NewBlindIndexer derives an index salt from the project data key via HKDF.
// Different projects therefore produce unrelated indexes for the same key.
func NewBlindIndexer(dataKey []byte) (*BlindIndexer, error) {
	if len(dataKey) != KeySize {
		return nil, fmt.Errorf("invalid data key length %d, want %d", len(dataKey), KeySize)
	}
	r := hkdf.New(sha256.New, dataKey, nil, []byte(indexSaltInfo))
	salt := make([]byte, 16)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to derive index salt: %w", err)
	}
	return &BlindIndexer{salt: salt}, nil
}

// Index computes the blind index of a secret key.
func (b *BlindIndexer) Index(secretKey string) []byte {
	return argon2.IDKey([]byte(secretKey), b.salt,
		blindIndexTime, blindIndexMemory, blindIndexThreads, blindIndexLength)
}
