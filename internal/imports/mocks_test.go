package imports

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/database"
)

// fakeStore is an in-memory stand-in for the repository layer that preserves
// the same semantics: dense 1-based positions, canonical paths, ordered
// listings.
type fakeStore struct {
	projectID   uuid.UUID
	envsByID    map[uuid.UUID]*database.Environment
	envsBySlug  map[string]*database.Environment
	folders     map[string]*database.SecretFolder
	foldersByID map[uuid.UUID]*database.SecretFolder
	secrets     map[uuid.UUID][]database.Secret
	imports     map[uuid.UUID][]*database.SecretImport
	roles       map[string]database.MembershipRole
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projectID:   uuid.New(),
		envsByID:    make(map[uuid.UUID]*database.Environment),
		envsBySlug:  make(map[string]*database.Environment),
		folders:     make(map[string]*database.SecretFolder),
		foldersByID: make(map[uuid.UUID]*database.SecretFolder),
		secrets:     make(map[uuid.UUID][]database.Secret),
		imports:     make(map[uuid.UUID][]*database.SecretImport),
		roles:       make(map[string]database.MembershipRole),
	}
}

func (f *fakeStore) repos() *database.Repositories {
	return &database.Repositories{
		Projects: &fakeProjects{f},
		Folders:  &fakeFolders{f},
		Secrets:  &fakeSecrets{f},
		Imports:  &fakeImports{f},
	}
}

func (f *fakeStore) addEnv(slug string) *database.Environment {
	env := &database.Environment{
		ID:        uuid.New(),
		ProjectID: f.projectID,
		Name:      slug,
		Slug:      slug,
		Position:  len(f.envsBySlug) + 1,
	}
	f.envsByID[env.ID] = env
	f.envsBySlug[slug] = env
	return env
}

func (f *fakeStore) folderKey(envID uuid.UUID, path string) string {
	return envID.String() + "|" + database.CanonicalPath(path)
}

func (f *fakeStore) addFolder(envSlug, path string) *database.SecretFolder {
	env := f.envsBySlug[envSlug]
	key := f.folderKey(env.ID, path)
	if existing, ok := f.folders[key]; ok {
		return existing
	}
	folder := &database.SecretFolder{
		ID:            uuid.New(),
		EnvironmentID: env.ID,
		Path:          database.CanonicalPath(path),
	}
	f.folders[key] = folder
	f.foldersByID[folder.ID] = folder
	return folder
}

func (f *fakeStore) addSecret(folderID uuid.UUID, key string, ciphertext []byte) {
	f.secrets[folderID] = append(f.secrets[folderID], database.Secret{
		ID:         uuid.New(),
		FolderID:   folderID,
		Key:        key,
		Ciphertext: ciphertext,
		IV:         make([]byte, 12),
		Tag:        make([]byte, 16),
		Version:    1,
	})
}

// addImport appends an edge directly, bypassing the service layer.
func (f *fakeStore) addImport(t *testing.T, fromFolder uuid.UUID, toEnvSlug, toPath string) *database.SecretImport {
	t.Helper()
	imp, err := (&fakeImports{f}).Create(context.Background(), fromFolder, f.envsBySlug[toEnvSlug].ID, toPath)
	require.NoError(t, err)
	return imp
}

// fakeProjects implements the environment and role lookups the resolver and
// services use. Unused methods come from the embedded nil interface.
type fakeProjects struct {
	s *fakeStore
}

func (p *fakeProjects) Create(context.Context, *database.Project) error { panic("unused") }
func (p *fakeProjects) Get(context.Context, uuid.UUID) (*database.Project, error) {
	panic("unused")
}
func (p *fakeProjects) GetBySlug(context.Context, string) (*database.Project, error) {
	panic("unused")
}
func (p *fakeProjects) List(context.Context, int, int) ([]database.Project, error) {
	panic("unused")
}
func (p *fakeProjects) Delete(context.Context, uuid.UUID) error { panic("unused") }
func (p *fakeProjects) CreateEnvironment(context.Context, *database.Environment) error {
	panic("unused")
}
func (p *fakeProjects) AddMembership(context.Context, *database.Membership) error {
	panic("unused")
}

func (p *fakeProjects) GetEnvironment(_ context.Context, id uuid.UUID) (*database.Environment, error) {
	env, ok := p.s.envsByID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return env, nil
}

func (p *fakeProjects) GetEnvironmentBySlug(_ context.Context, projectID uuid.UUID, slug string) (*database.Environment, error) {
	env, ok := p.s.envsBySlug[slug]
	if !ok || env.ProjectID != projectID {
		return nil, database.ErrNotFound
	}
	return env, nil
}

func (p *fakeProjects) ListEnvironments(_ context.Context, projectID uuid.UUID) ([]database.Environment, error) {
	var out []database.Environment
	for _, env := range p.s.envsByID {
		if env.ProjectID == projectID {
			out = append(out, *env)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (p *fakeProjects) GetRole(_ context.Context, projectID uuid.UUID, userID string) (database.MembershipRole, error) {
	role, ok := p.s.roles[projectID.String()+"/"+userID]
	if !ok {
		return "", database.ErrNotFound
	}
	return role, nil
}

type fakeFolders struct {
	s *fakeStore
}

func (f *fakeFolders) Ensure(_ context.Context, environmentID uuid.UUID, path string) (*database.SecretFolder, error) {
	env := f.s.envsByID[environmentID]
	return f.s.addFolder(env.Slug, path), nil
}

func (f *fakeFolders) Get(_ context.Context, id uuid.UUID) (*database.SecretFolder, error) {
	folder, ok := f.s.foldersByID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return folder, nil
}

func (f *fakeFolders) GetByPath(_ context.Context, projectID uuid.UUID, envSlug, path string) (*database.SecretFolder, error) {
	env, ok := f.s.envsBySlug[envSlug]
	if !ok || env.ProjectID != projectID {
		return nil, database.ErrNotFound
	}
	folder, ok := f.s.folders[f.s.folderKey(env.ID, path)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return folder, nil
}

func (f *fakeFolders) ListByEnvironment(_ context.Context, environmentID uuid.UUID) ([]database.SecretFolder, error) {
	var out []database.SecretFolder
	for _, folder := range f.s.foldersByID {
		if folder.EnvironmentID == environmentID {
			out = append(out, *folder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *fakeFolders) Delete(context.Context, uuid.UUID) error { panic("unused") }

type fakeSecrets struct {
	s *fakeStore
}

func (f *fakeSecrets) Create(context.Context, *database.Secret) error { panic("unused") }
func (f *fakeSecrets) GetByKey(context.Context, uuid.UUID, string) (*database.Secret, error) {
	panic("unused")
}
func (f *fakeSecrets) GetByBlindIndex(context.Context, uuid.UUID, []byte) (*database.Secret, error) {
	panic("unused")
}
func (f *fakeSecrets) UpdateValue(context.Context, uuid.UUID, []byte, []byte, []byte) (*database.Secret, error) {
	panic("unused")
}
func (f *fakeSecrets) Delete(context.Context, uuid.UUID, string) error { panic("unused") }
func (f *fakeSecrets) ListVersions(context.Context, uuid.UUID) ([]database.SecretVersion, error) {
	panic("unused")
}

func (f *fakeSecrets) ListByFolder(_ context.Context, folderID uuid.UUID) ([]database.Secret, error) {
	out := append([]database.Secret(nil), f.s.secrets[folderID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// fakeImports mirrors the transactional position semantics of the real store.
type fakeImports struct {
	s *fakeStore
}

func (f *fakeImports) Create(_ context.Context, folderID, importEnvID uuid.UUID, importPath string) (*database.SecretImport, error) {
	importPath = database.CanonicalPath(importPath)
	for _, imp := range f.s.imports[folderID] {
		if imp.ImportEnvID == importEnvID && imp.ImportPath == importPath {
			return nil, database.ErrDuplicate
		}
	}
	imp := &database.SecretImport{
		ID:          uuid.New(),
		FolderID:    folderID,
		ImportEnvID: importEnvID,
		ImportPath:  importPath,
		Position:    len(f.s.imports[folderID]) + 1,
	}
	f.s.imports[folderID] = append(f.s.imports[folderID], imp)
	return imp, nil
}

func (f *fakeImports) Get(_ context.Context, id uuid.UUID) (*database.SecretImport, error) {
	for _, edges := range f.s.imports {
		for _, imp := range edges {
			if imp.ID == id {
				return imp, nil
			}
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeImports) ListByFolder(_ context.Context, folderID uuid.UUID) ([]database.SecretImport, error) {
	edges := f.s.imports[folderID]
	out := make([]database.SecretImport, 0, len(edges))
	for _, imp := range edges {
		out = append(out, *imp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeImports) ListByTarget(_ context.Context, importEnvID uuid.UUID, importPath string) ([]database.SecretImport, error) {
	importPath = database.CanonicalPath(importPath)
	var out []database.SecretImport
	for _, edges := range f.s.imports {
		for _, imp := range edges {
			if imp.ImportEnvID == importEnvID && imp.ImportPath == importPath {
				out = append(out, *imp)
			}
		}
	}
	return out, nil
}

func (f *fakeImports) UpdatePosition(ctx context.Context, id uuid.UUID, newPos int) (*database.SecretImport, error) {
	target, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	siblings := f.s.imports[target.FolderID]
	if newPos < 1 || newPos > len(siblings) {
		return nil, database.ErrPositionOutOfRange
	}
	old := target.Position
	for _, imp := range siblings {
		switch {
		case imp.ID == id:
			imp.Position = newPos
		case old < newPos && imp.Position > old && imp.Position <= newPos:
			imp.Position--
		case old > newPos && imp.Position >= newPos && imp.Position < old:
			imp.Position++
		}
	}
	return target, nil
}

func (f *fakeImports) UpdateTarget(ctx context.Context, id uuid.UUID, importEnvID uuid.UUID, importPath string) (*database.SecretImport, error) {
	target, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	importPath = database.CanonicalPath(importPath)
	for _, imp := range f.s.imports[target.FolderID] {
		if imp.ID != id && imp.ImportEnvID == importEnvID && imp.ImportPath == importPath {
			return nil, database.ErrDuplicate
		}
	}
	target.ImportEnvID = importEnvID
	target.ImportPath = importPath
	return target, nil
}

func (f *fakeImports) FindEdge(_ context.Context, folderID, importEnvID uuid.UUID, importPath string) (uuid.UUID, error) {
	importPath = database.CanonicalPath(importPath)
	for _, imp := range f.s.imports[folderID] {
		if imp.ImportEnvID == importEnvID && imp.ImportPath == importPath {
			return imp.ID, nil
		}
	}
	return uuid.Nil, database.ErrNotFound
}

func (f *fakeImports) Delete(ctx context.Context, id uuid.UUID) (*database.SecretImport, error) {
	target, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	siblings := f.s.imports[target.FolderID]
	kept := make([]*database.SecretImport, 0, len(siblings)-1)
	for _, imp := range siblings {
		if imp.ID == id {
			continue
		}
		if imp.Position > target.Position {
			imp.Position--
		}
		kept = append(kept, imp)
	}
	f.s.imports[target.FolderID] = kept
	return target, nil
}
