package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	c, err := NewCipher(key)
	require.NoError(t, err)

	plaintext := []byte("postgres://svc:hunter2@db:5432/app")
	enc, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	assert.Len(t, enc.IV, IVSize)
	assert.Len(t, enc.Tag, TagSize)
	assert.NotEqual(t, plaintext, enc.Ciphertext)

	decrypted, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestCipherRejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher(make([]byte, 16))
	assert.Error(t, err)
}

func TestCipherFreshIVPerEncryption(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	a, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a.IV, b.IV))
	assert.False(t, bytes.Equal(a.Ciphertext, b.Ciphertext))
}

func TestDecryptFailsOnTamper(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	enc, err := c.Encrypt([]byte("value"))
	require.NoError(t, err)

	enc.Ciphertext[0] ^= 0xff
	_, err = c.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptFailsOnWrongKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	c1, err := NewCipher(k1)
	require.NoError(t, err)
	c2, err := NewCipher(k2)
	require.NoError(t, err)

	enc, err := c1.Encrypt([]byte("value"))
	require.NoError(t, err)

	_, err = c2.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestBlindIndexDeterministic(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	indexer, err := NewBlindIndexer(key)
	require.NoError(t, err)

	assert.Equal(t, indexer.Index("DB_PASSWORD"), indexer.Index("DB_PASSWORD"))
	assert.NotEqual(t, indexer.Index("DB_PASSWORD"), indexer.Index("DB_USER"))
}

func TestBlindIndexIsolatedPerKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	i1, err := NewBlindIndexer(k1)
	require.NoError(t, err)
	i2, err := NewBlindIndexer(k2)
	require.NoError(t, err)

	assert.NotEqual(t, i1.Index("DB_PASSWORD"), i2.Index("DB_PASSWORD"))
}
