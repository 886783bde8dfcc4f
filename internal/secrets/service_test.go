package secrets

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
)

// memStore backs the hand-rolled repository fakes for this package.
type memStore struct {
	projectID uuid.UUID
	env       *database.Environment
	folders   map[string]*database.SecretFolder
	byID      map[uuid.UUID]*database.SecretFolder
	secrets   map[uuid.UUID]map[string]*database.Secret
	versions  map[uuid.UUID][]database.SecretVersion
	roles     map[string]database.MembershipRole
	kmsKeys   map[uuid.UUID]*database.KMSKey
}

func newMemStore() *memStore {
	projectID := uuid.New()
	return &memStore{
		projectID: projectID,
		env: &database.Environment{
			ID: uuid.New(), ProjectID: projectID, Name: "Development", Slug: "dev", Position: 1,
		},
		folders:  map[string]*database.SecretFolder{},
		byID:     map[uuid.UUID]*database.SecretFolder{},
		secrets:  map[uuid.UUID]map[string]*database.Secret{},
		versions: map[uuid.UUID][]database.SecretVersion{},
		roles:    map[string]database.MembershipRole{},
		kmsKeys:  map[uuid.UUID]*database.KMSKey{},
	}
}

type memProjects struct {
	database.ProjectRepository
	s *memStore
}

func (p *memProjects) GetEnvironmentBySlug(_ context.Context, projectID uuid.UUID, slug string) (*database.Environment, error) {
	if projectID != p.s.projectID || slug != p.s.env.Slug {
		return nil, database.ErrNotFound
	}
	return p.s.env, nil
}

func (p *memProjects) GetEnvironment(_ context.Context, id uuid.UUID) (*database.Environment, error) {
	if id != p.s.env.ID {
		return nil, database.ErrNotFound
	}
	return p.s.env, nil
}

func (p *memProjects) GetRole(_ context.Context, projectID uuid.UUID, userID string) (database.MembershipRole, error) {
	role, ok := p.s.roles[projectID.String()+"/"+userID]
	if !ok {
		return "", database.ErrNotFound
	}
	return role, nil
}

type memFolders struct {
	database.FolderRepository
	s *memStore
}

func (f *memFolders) Ensure(_ context.Context, environmentID uuid.UUID, path string) (*database.SecretFolder, error) {
	path = database.CanonicalPath(path)
	if existing, ok := f.s.folders[path]; ok {
		return existing, nil
	}
	folder := &database.SecretFolder{ID: uuid.New(), EnvironmentID: environmentID, Path: path}
	f.s.folders[path] = folder
	f.s.byID[folder.ID] = folder
	f.s.secrets[folder.ID] = map[string]*database.Secret{}
	return folder, nil
}

func (f *memFolders) GetByPath(_ context.Context, projectID uuid.UUID, envSlug, path string) (*database.SecretFolder, error) {
	if projectID != f.s.projectID || envSlug != f.s.env.Slug {
		return nil, database.ErrNotFound
	}
	folder, ok := f.s.folders[database.CanonicalPath(path)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return folder, nil
}

type memSecrets struct {
	database.SecretRepository
	s *memStore
}

func (m *memSecrets) Create(_ context.Context, sec *database.Secret) error {
	bucket := m.s.secrets[sec.FolderID]
	if _, ok := bucket[sec.Key]; ok {
		return database.ErrDuplicate
	}
	sec.ID = uuid.New()
	sec.Version = 1
	stored := *sec
	bucket[sec.Key] = &stored
	return nil
}

func (m *memSecrets) GetByKey(_ context.Context, folderID uuid.UUID, key string) (*database.Secret, error) {
	sec, ok := m.s.secrets[folderID][key]
	if !ok {
		return nil, database.ErrNotFound
	}
	return sec, nil
}

func (m *memSecrets) GetByBlindIndex(_ context.Context, folderID uuid.UUID, index []byte) (*database.Secret, error) {
	for _, sec := range m.s.secrets[folderID] {
		if bytes.Equal(sec.BlindIndex, index) {
			return sec, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memSecrets) ListByFolder(_ context.Context, folderID uuid.UUID) ([]database.Secret, error) {
	var out []database.Secret
	for _, sec := range m.s.secrets[folderID] {
		out = append(out, *sec)
	}
	return out, nil
}

func (m *memSecrets) UpdateValue(_ context.Context, id uuid.UUID, ciphertext, iv, tag []byte) (*database.Secret, error) {
	for _, bucket := range m.s.secrets {
		for _, sec := range bucket {
			if sec.ID != id {
				continue
			}
			m.s.versions[id] = append([]database.SecretVersion{{
				ID: uuid.New(), SecretID: id, Version: sec.Version,
				Ciphertext: sec.Ciphertext, IV: sec.IV, Tag: sec.Tag,
			}}, m.s.versions[id]...)
			sec.Ciphertext, sec.IV, sec.Tag = ciphertext, iv, tag
			sec.Version++
			return sec, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memSecrets) Delete(_ context.Context, folderID uuid.UUID, key string) error {
	bucket := m.s.secrets[folderID]
	if _, ok := bucket[key]; !ok {
		return database.ErrNotFound
	}
	delete(bucket, key)
	return nil
}

func (m *memSecrets) ListVersions(_ context.Context, secretID uuid.UUID) ([]database.SecretVersion, error) {
	return m.s.versions[secretID], nil
}

type memKMSKeys struct {
	s *memStore
}

func (m *memKMSKeys) Create(_ context.Context, k *database.KMSKey) error {
	if _, ok := m.s.kmsKeys[k.ProjectID]; ok {
		return database.ErrDuplicate
	}
	k.ID = uuid.New()
	stored := *k
	m.s.kmsKeys[k.ProjectID] = &stored
	return nil
}

func (m *memKMSKeys) GetByProject(_ context.Context, projectID uuid.UUID) (*database.KMSKey, error) {
	k, ok := m.s.kmsKeys[projectID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return k, nil
}

type fixture struct {
	store *memStore
	svc   *Service
	admin permission.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	repos := &database.Repositories{
		Projects: &memProjects{s: store},
		Folders:  &memFolders{s: store},
		Secrets:  &memSecrets{s: store},
	}

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(255 - i)
	}
	keySvc, err := kms.NewService(hex.EncodeToString(masterKey), &memKMSKeys{s: store}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, keySvc.CreateProjectKey(context.Background(), store.projectID))

	store.roles[store.projectID.String()+"/admin"] = database.RoleAdmin
	store.roles[store.projectID.String()+"/viewer"] = database.RoleViewer

	perm := permission.NewService(repos.Projects)
	return &fixture{
		store: store,
		svc:   NewService(repos, perm, keySvc, zerolog.Nop(), nil),
		admin: permission.Actor{ID: "admin"},
	}
}

func TestCreateAndGetSecretRoundTrip(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.CreateSecret(context.Background(), f.admin, CreateSecretInput{
		ProjectID:   f.store.projectID,
		Environment: "dev",
		Path:        "/backend",
		Key:         "DB_PASSWORD",
		Value:       "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	// The stored row never holds the plaintext.
	stored := f.store.secrets[created.FolderID]["DB_PASSWORD"]
	assert.NotContains(t, string(stored.Ciphertext), "hunter2")
	assert.NotEmpty(t, stored.BlindIndex)

	got, err := f.svc.GetSecret(context.Background(), f.admin, f.store.projectID, "dev", "/backend", "DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Value)
}

func TestCreateSecretDuplicateConflict(t *testing.T) {
	f := newFixture(t)
	in := CreateSecretInput{
		ProjectID: f.store.projectID, Environment: "dev", Path: "/", Key: "K", Value: "v1",
	}
	_, err := f.svc.CreateSecret(context.Background(), f.admin, in)
	require.NoError(t, err)

	_, err = f.svc.CreateSecret(context.Background(), f.admin, in)
	assert.True(t, apperr.IsConflict(err))
}

func TestUpdateSecretBumpsVersionAndKeepsHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSecret(context.Background(), f.admin, CreateSecretInput{
		ProjectID: f.store.projectID, Environment: "dev", Path: "/", Key: "K", Value: "v1",
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdateSecret(context.Background(), f.admin, f.store.projectID, "dev", "/", "K", "v2")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "v2", updated.Value)

	versions, err := f.svc.ListVersions(context.Background(), f.admin, f.store.projectID, "dev", "/", "K")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, "v1", versions[0].Value)
}

func TestDeleteSecret(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSecret(context.Background(), f.admin, CreateSecretInput{
		ProjectID: f.store.projectID, Environment: "dev", Path: "/", Key: "K", Value: "v",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSecret(context.Background(), f.admin, f.store.projectID, "dev", "/", "K"))

	_, err = f.svc.GetSecret(context.Background(), f.admin, f.store.projectID, "dev", "/", "K")
	assert.True(t, apperr.IsNotFound(err))
}

func TestGetSecretsMissingFolderIsEmpty(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.GetSecrets(context.Background(), f.admin, f.store.projectID, "dev", "/nope")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestViewerCannotCreateSecret(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSecret(context.Background(), permission.Actor{ID: "viewer"}, CreateSecretInput{
		ProjectID: f.store.projectID, Environment: "dev", Path: "/", Key: "K", Value: "v",
	})
	assert.True(t, apperr.IsForbidden(err))
}

func TestCreateSecretMissingKeyValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSecret(context.Background(), f.admin, CreateSecretInput{
		ProjectID: f.store.projectID, Environment: "dev", Path: "/",
	})
	assert.True(t, apperr.IsValidation(err))
}
