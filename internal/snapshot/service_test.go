package snapshot

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/crypto"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/imports"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
)

// memStorage collects uploads in memory.
type memStorage struct {
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (m *memStorage) Upload(_ context.Context, objectPath string, data []byte, _ string) error {
	m.objects[objectPath] = data
	return nil
}

func (m *memStorage) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for p, data := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, ObjectInfo{Path: p, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memStorage) Health(context.Context) error { return nil }

// stubResolver returns a fixed view.
type stubResolver struct {
	secrets []imports.MaterializedSecret
}

func (r *stubResolver) ResolveSecrets(context.Context, permission.Actor, uuid.UUID, string, string) ([]imports.MaterializedSecret, error) {
	return r.secrets, nil
}

// stubProjects grants every user admin.
type stubProjects struct {
	database.ProjectRepository
}

func (stubProjects) GetRole(context.Context, uuid.UUID, string) (database.MembershipRole, error) {
	return database.RoleAdmin, nil
}

type memKMSKeys struct {
	keys map[uuid.UUID]*database.KMSKey
}

func (m *memKMSKeys) Create(_ context.Context, k *database.KMSKey) error {
	k.ID = uuid.New()
	stored := *k
	m.keys[k.ProjectID] = &stored
	return nil
}

func (m *memKMSKeys) GetByProject(_ context.Context, projectID uuid.UUID) (*database.KMSKey, error) {
	k, ok := m.keys[projectID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return k, nil
}

func newTestKMS(t *testing.T, projectID uuid.UUID) *kms.Service {
	t.Helper()
	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i + 1)
	}
	svc, err := kms.NewService(hex.EncodeToString(masterKey), &memKMSKeys{keys: map[uuid.UUID]*database.KMSKey{}}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.CreateProjectKey(context.Background(), projectID))
	return svc
}

func TestTakeWithoutStorageNotConfigured(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, zerolog.Nop(), nil)
	assert.False(t, svc.Enabled())

	_, err := svc.Take(context.Background(), permission.Actor{ID: "u"}, uuid.New(), "dev", "/")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = svc.List(context.Background(), permission.Actor{ID: "u"}, uuid.New())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTakeUploadsEncryptedPayload(t *testing.T) {
	projectID := uuid.New()
	keySvc := newTestKMS(t, projectID)
	storage := newMemStorage()

	resolver := &stubResolver{secrets: []imports.MaterializedSecret{
		{Key: "DB_URL", Value: "postgres://db", Version: 1, SourceEnv: "prod", SourcePath: "/"},
	}}

	svc := NewService(storage, resolver, keySvc, permission.NewService(stubProjects{}), zerolog.Nop(), nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	snap, err := svc.Take(context.Background(), permission.Actor{ID: "u"}, projectID, "dev", "backend")
	require.NoError(t, err)

	assert.Equal(t, "/backend", snap.SecretPath)
	assert.Equal(t, 1, snap.SecretCount)
	assert.Equal(t, "projects/"+projectID.String()+"/snapshots/dev/backend/2025-06-01T12:00:00Z.json.enc", snap.Path)

	blob, ok := storage.objects[snap.Path]
	require.True(t, ok)

	// The blob must not leak plaintext, and must decrypt with the project key.
	assert.NotContains(t, string(blob), "postgres://db")
	require.Greater(t, len(blob), crypto.IVSize+crypto.TagSize)

	cipher, err := keySvc.CipherForProject(context.Background(), projectID)
	require.NoError(t, err)
	plaintext, err := cipher.Decrypt(&crypto.EncryptedValue{
		IV:         blob[:crypto.IVSize],
		Ciphertext: blob[crypto.IVSize : len(blob)-crypto.TagSize],
		Tag:        blob[len(blob)-crypto.TagSize:],
	})
	require.NoError(t, err)

	var p payload
	require.NoError(t, json.Unmarshal(plaintext, &p))
	assert.Equal(t, projectID, p.ProjectID)
	require.Len(t, p.Secrets, 1)
	assert.Equal(t, "postgres://db", p.Secrets[0].Value)
}

func TestListReturnsProjectObjects(t *testing.T) {
	projectID := uuid.New()
	keySvc := newTestKMS(t, projectID)
	storage := newMemStorage()
	storage.objects["projects/"+projectID.String()+"/snapshots/dev/a.json.enc"] = []byte("x")
	storage.objects["projects/"+uuid.NewString()+"/snapshots/dev/b.json.enc"] = []byte("y")

	svc := NewService(storage, &stubResolver{}, keySvc, permission.NewService(stubProjects{}), zerolog.Nop(), nil)

	infos, err := svc.List(context.Background(), permission.Actor{ID: "u"}, projectID)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Path, projectID.String())
}
