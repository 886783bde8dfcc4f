package kms

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
)

// mockKeyRepo is an in-memory KMSKeyRepository.
type mockKeyRepo struct {
	keys map[uuid.UUID]*database.KMSKey
}

func newMockKeyRepo() *mockKeyRepo {
	return &mockKeyRepo{keys: make(map[uuid.UUID]*database.KMSKey)}
}

func (m *mockKeyRepo) Create(_ context.Context, k *database.KMSKey) error {
	if _, ok := m.keys[k.ProjectID]; ok {
		return database.ErrDuplicate
	}
	k.ID = uuid.New()
	stored := *k
	m.keys[k.ProjectID] = &stored
	return nil
}

func (m *mockKeyRepo) GetByProject(_ context.Context, projectID uuid.UUID) (*database.KMSKey, error) {
	k, ok := m.keys[projectID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return k, nil
}

func testMasterKeyHex() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return hex.EncodeToString(key)
}

func TestNewServiceRejectsBadMasterKey(t *testing.T) {
	_, err := NewService("not-hex", newMockKeyRepo(), zerolog.Nop())
	assert.Error(t, err)

	_, err = NewService("deadbeef", newMockKeyRepo(), zerolog.Nop())
	assert.Error(t, err)
}

func TestCreateProjectKeyWrapsAndStores(t *testing.T) {
	repo := newMockKeyRepo()
	svc, err := NewService(testMasterKeyHex(), repo, zerolog.Nop())
	require.NoError(t, err)

	projectID := uuid.New()
	require.NoError(t, svc.CreateProjectKey(context.Background(), projectID))

	stored := repo.keys[projectID]
	require.NotNil(t, stored)
	assert.Len(t, stored.WrappedKey, 32)
	assert.Len(t, stored.WrapIV, 12)
	assert.Len(t, stored.WrapTag, 16)
}

func TestCreateProjectKeyConflictOnSecondKey(t *testing.T) {
	svc, err := NewService(testMasterKeyHex(), newMockKeyRepo(), zerolog.Nop())
	require.NoError(t, err)

	projectID := uuid.New()
	require.NoError(t, svc.CreateProjectKey(context.Background(), projectID))

	err = svc.CreateProjectKey(context.Background(), projectID)
	assert.True(t, apperr.IsConflict(err))
}

func TestCipherForProjectRoundTrip(t *testing.T) {
	svc, err := NewService(testMasterKeyHex(), newMockKeyRepo(), zerolog.Nop())
	require.NoError(t, err)

	projectID := uuid.New()
	require.NoError(t, svc.CreateProjectKey(context.Background(), projectID))

	c, err := svc.CipherForProject(context.Background(), projectID)
	require.NoError(t, err)

	enc, err := c.Encrypt([]byte("value"))
	require.NoError(t, err)
	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), plain)
}

func TestCipherForProjectUnknownProject(t *testing.T) {
	svc, err := NewService(testMasterKeyHex(), newMockKeyRepo(), zerolog.Nop())
	require.NoError(t, err)

	_, err = svc.CipherForProject(context.Background(), uuid.New())
	assert.True(t, apperr.IsNotFound(err))
}

func TestForgetDropsCachedKey(t *testing.T) {
	repo := newMockKeyRepo()
	svc, err := NewService(testMasterKeyHex(), repo, zerolog.Nop())
	require.NoError(t, err)

	projectID := uuid.New()
	require.NoError(t, svc.CreateProjectKey(context.Background(), projectID))

	_, err = svc.CipherForProject(context.Background(), projectID)
	require.NoError(t, err)

	svc.Forget(projectID)
	delete(repo.keys, projectID)

	_, err = svc.CipherForProject(context.Background(), projectID)
	assert.True(t, apperr.IsNotFound(err))
}
