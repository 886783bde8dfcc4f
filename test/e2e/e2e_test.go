//go:build integration

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/database"
)

type projectDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type environmentDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Position int    `json:"position"`
}

type secretDTO struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int    `json:"version"`
}

type resolvedSecretDTO struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	SourceEnv  string `json:"source_environment"`
	SourcePath string `json:"source_path"`
	Local      bool   `json:"local"`
}

type importDTO struct {
	ID         string `json:"id"`
	Position   int    `json:"position"`
	ImportPath string `json:"import_path"`
	ImportEnv  struct {
		Slug string `json:"slug"`
	} `json:"import_env"`
}

type importGroupDTO struct {
	SecretPath  string      `json:"secret_path"`
	Environment string      `json:"environment"`
	Secrets     []secretDTO `json:"secrets"`
}

type snapshotDTO struct {
	Path        string `json:"path"`
	Environment string `json:"environment"`
	SecretCount int    `json:"secret_count"`
}

// createProject provisions a project through the API and returns it with its
// default environments.
func createProject(t *testing.T, token, name string) (projectDTO, []environmentDTO) {
	t.Helper()

	resp := testEnv.call(t, http.MethodPost, "/api/v1/projects", token, map[string]string{
		"name": name,
		"slug": fmt.Sprintf("%s-%s", name, uuid.New().String()[:8]),
	})
	require.Equal(t, http.StatusCreated, resp.Status)

	var project projectDTO
	var envs []environmentDTO
	decode(t, resp, "project", &project)
	decode(t, resp, "environments", &envs)
	return project, envs
}

// setSecret creates a secret through the API.
func setSecret(t *testing.T, token, projectID, env, path, key, value string) {
	t.Helper()

	resp := testEnv.call(t, http.MethodPost, "/api/v1/secrets", token, map[string]string{
		"projectId":   projectID,
		"environment": env,
		"path":        path,
		"key":         key,
		"value":       value,
	})
	require.Equal(t, http.StatusCreated, resp.Status)
}

// addImport appends an import edge through the API.
func addImport(t *testing.T, token, projectID, env, path, fromEnv, fromPath string) importDTO {
	t.Helper()

	resp := testEnv.call(t, http.MethodPost, "/api/v1/secret-imports", token, map[string]interface{}{
		"projectId":   projectID,
		"environment": env,
		"path":        path,
		"import": map[string]string{
			"environment": fromEnv,
			"path":        fromPath,
		},
	})
	require.Equal(t, http.StatusOK, resp.Status)

	var imp importDTO
	decode(t, resp, "secretImport", &imp)
	return imp
}

// resolveSecrets fetches the merged view for a folder.
func resolveSecrets(t *testing.T, token, projectID, env, path string) map[string]resolvedSecretDTO {
	t.Helper()

	url := fmt.Sprintf("/api/v1/secrets?projectId=%s&environment=%s&path=%s&include_imports=true",
		projectID, env, path)
	resp := testEnv.call(t, http.MethodGet, url, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var resolved []resolvedSecretDTO
	decode(t, resp, "secrets", &resolved)

	byKey := make(map[string]resolvedSecretDTO, len(resolved))
	for _, s := range resolved {
		assert.NotContains(t, byKey, s.Key, "merged view must not repeat keys")
		byKey[s.Key] = s
	}
	return byKey
}

func TestE2E_HealthEndpoints(t *testing.T) {
	resp := testEnv.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Status)

	resp = testEnv.call(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestE2E_ProjectProvisioning(t *testing.T) {
	token := testEnv.token(t, "alice")

	project, envs := createProject(t, token, "provisioning")
	require.Len(t, envs, 3)

	slugs := []string{envs[0].Slug, envs[1].Slug, envs[2].Slug}
	assert.Equal(t, []string{"dev", "staging", "prod"}, slugs)
	for i, env := range envs {
		assert.Equal(t, i+1, env.Position)
	}

	// The creator holds the admin role and can list environments back.
	resp := testEnv.call(t, http.MethodGet, "/api/v1/projects/"+project.ID+"/environments", token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var listed []environmentDTO
	decode(t, resp, "environments", &listed)
	assert.Len(t, listed, 3)

	// The data key was provisioned: secrets can be written immediately.
	setSecret(t, token, project.ID, "dev", "/", "BOOTSTRAP", "ok")
}

func TestE2E_SecretLifecycle(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "lifecycle")

	setSecret(t, token, project.ID, "dev", "/", "DB_URL", "postgres://v1")

	// Update pushes the old value into history.
	resp := testEnv.call(t, http.MethodPatch, "/api/v1/secrets/DB_URL", token, map[string]string{
		"projectId":   project.ID,
		"environment": "dev",
		"path":        "/",
		"value":       "postgres://v2",
	})
	require.Equal(t, http.StatusOK, resp.Status)

	var updated secretDTO
	decode(t, resp, "secret", &updated)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "postgres://v2", updated.Value)

	url := fmt.Sprintf("/api/v1/secrets/DB_URL/versions?projectId=%s&environment=dev&path=/", project.ID)
	resp = testEnv.call(t, http.MethodGet, url, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var versions []secretDTO
	decode(t, resp, "versions", &versions)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, "postgres://v1", versions[0].Value)

	// Delete, then the key is gone.
	url = fmt.Sprintf("/api/v1/secrets/DB_URL?projectId=%s&environment=dev&path=/", project.ID)
	resp = testEnv.call(t, http.MethodDelete, url, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	url = fmt.Sprintf("/api/v1/secrets?projectId=%s&environment=dev&path=/", project.ID)
	resp = testEnv.call(t, http.MethodGet, url, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var remaining []secretDTO
	decode(t, resp, "secrets", &remaining)
	assert.Empty(t, remaining)
}

func TestE2E_ImportResolutionPrecedence(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "precedence")

	// Two source folders in dev defining the same key, plus a local override.
	setSecret(t, token, project.ID, "dev", "/base", "SHARED", "from-base")
	setSecret(t, token, project.ID, "dev", "/base", "BASE_ONLY", "base")
	setSecret(t, token, project.ID, "dev", "/override", "SHARED", "from-override")
	setSecret(t, token, project.ID, "staging", "/app", "SHARED", "local")
	setSecret(t, token, project.ID, "staging", "/app", "LOCAL_ONLY", "local")

	first := addImport(t, token, project.ID, "staging", "/app", "dev", "/base")
	second := addImport(t, token, project.ID, "staging", "/app", "dev", "/override")
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 2, second.Position)

	resolved := resolveSecrets(t, token, project.ID, "staging", "/app")
	require.Len(t, resolved, 3)

	// Local secrets win over every import; among imports the later edge wins.
	assert.Equal(t, "local", resolved["SHARED"].Value)
	assert.True(t, resolved["SHARED"].Local)
	assert.Equal(t, "base", resolved["BASE_ONLY"].Value)
	assert.Equal(t, "dev", resolved["BASE_ONLY"].SourceEnv)
	assert.Equal(t, "/base", resolved["BASE_ONLY"].SourcePath)
	assert.Equal(t, "local", resolved["LOCAL_ONLY"].Value)

	// Without the local override the later import wins.
	url := fmt.Sprintf("/api/v1/secrets/SHARED?projectId=%s&environment=staging&path=/app", project.ID)
	resp := testEnv.call(t, http.MethodDelete, url, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	resolved = resolveSecrets(t, token, project.ID, "staging", "/app")
	assert.Equal(t, "from-override", resolved["SHARED"].Value)
	assert.False(t, resolved["SHARED"].Local)
}

func TestE2E_ImportReorderChangesWinner(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "reorder")

	setSecret(t, token, project.ID, "dev", "/a", "KEY", "from-a")
	setSecret(t, token, project.ID, "dev", "/b", "KEY", "from-b")

	addImport(t, token, project.ID, "staging", "/", "dev", "/a")
	edgeB := addImport(t, token, project.ID, "staging", "/", "dev", "/b")

	resolved := resolveSecrets(t, token, project.ID, "staging", "/")
	assert.Equal(t, "from-b", resolved["KEY"].Value)

	// Moving the /b edge to position 1 hands the win to /a.
	resp := testEnv.call(t, http.MethodPatch, "/api/v1/secret-imports/"+edgeB.ID, token, map[string]interface{}{
		"projectId": project.ID,
		"import":    map[string]int{"position": 1},
	})
	require.Equal(t, http.StatusOK, resp.Status)

	resolved = resolveSecrets(t, token, project.ID, "staging", "/")
	assert.Equal(t, "from-a", resolved["KEY"].Value)
}

func TestE2E_ImportGroupsKeepProvenance(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "groups")

	setSecret(t, token, project.ID, "dev", "/x", "KEY", "from-x")
	setSecret(t, token, project.ID, "dev", "/y", "KEY", "from-y")

	addImport(t, token, project.ID, "staging", "/", "dev", "/x")
	addImport(t, token, project.ID, "staging", "/", "dev", "/y")

	url := fmt.Sprintf("/api/v1/secret-imports/secrets?projectId=%s&environment=staging&path=/", project.ID)
	resp := testEnv.call(t, http.MethodGet, url, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var groups []importGroupDTO
	decode(t, resp, "secrets", &groups)
	require.Len(t, groups, 2)

	// Grouped output keeps both values; nothing is deduplicated across edges.
	assert.Equal(t, "/x", groups[0].SecretPath)
	assert.Equal(t, "/y", groups[1].SecretPath)
	require.Len(t, groups[0].Secrets, 1)
	require.Len(t, groups[1].Secrets, 1)
	assert.Equal(t, "from-x", groups[0].Secrets[0].Value)
	assert.Equal(t, "from-y", groups[1].Secrets[0].Value)
}

func TestE2E_ImportCycleResolves(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "cycle")

	setSecret(t, token, project.ID, "dev", "/a", "A_KEY", "a-value")
	setSecret(t, token, project.ID, "dev", "/b", "B_KEY", "b-value")
	setSecret(t, token, project.ID, "dev", "/c", "C_KEY", "c-value")

	// a -> b -> c -> a. The direct reciprocal edge is rejected at creation
	// time, but a three-folder loop is only caught during resolution.
	addImport(t, token, project.ID, "dev", "/a", "dev", "/b")
	addImport(t, token, project.ID, "dev", "/b", "dev", "/c")
	addImport(t, token, project.ID, "dev", "/c", "dev", "/a")

	// Resolution terminates and each folder sees all three keys exactly once.
	resolved := resolveSecrets(t, token, project.ID, "dev", "/a")
	require.Len(t, resolved, 3)
	assert.Equal(t, "a-value", resolved["A_KEY"].Value)
	assert.Equal(t, "b-value", resolved["B_KEY"].Value)
	assert.Equal(t, "c-value", resolved["C_KEY"].Value)
	assert.True(t, resolved["A_KEY"].Local)
	assert.False(t, resolved["B_KEY"].Local)

	resolved = resolveSecrets(t, token, project.ID, "dev", "/b")
	require.Len(t, resolved, 3)
	assert.Equal(t, "b-value", resolved["B_KEY"].Value)
	assert.True(t, resolved["B_KEY"].Local)
}

func TestE2E_DuplicateImportRejected(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "dup-import")

	addImport(t, token, project.ID, "staging", "/", "dev", "/")

	resp := testEnv.call(t, http.MethodPost, "/api/v1/secret-imports", token, map[string]interface{}{
		"projectId":   project.ID,
		"environment": "staging",
		"path":        "/",
		"import":      map[string]string{"environment": "dev", "path": "/"},
	})
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestE2E_PermissionEnforcement(t *testing.T) {
	adminToken := testEnv.token(t, "alice")
	project, _ := createProject(t, adminToken, "perms")

	// Grant bob the viewer role directly.
	projectID, err := uuid.Parse(project.ID)
	require.NoError(t, err)
	require.NoError(t, testEnv.Repos.Projects.AddMembership(context.Background(), &database.Membership{
		ProjectID: projectID,
		UserID:    "bob",
		Role:      database.RoleViewer,
	}))

	setSecret(t, adminToken, project.ID, "dev", "/", "ADMIN_KEY", "value")

	viewerToken := testEnv.token(t, "bob")

	// Viewers can read.
	url := fmt.Sprintf("/api/v1/secrets?projectId=%s&environment=dev&path=/", project.ID)
	resp := testEnv.call(t, http.MethodGet, url, viewerToken, nil)
	assert.Equal(t, http.StatusOK, resp.Status)

	// Viewers cannot write.
	resp = testEnv.call(t, http.MethodPost, "/api/v1/secrets", viewerToken, map[string]string{
		"projectId":   project.ID,
		"environment": "dev",
		"path":        "/",
		"key":         "VIEWER_KEY",
		"value":       "nope",
	})
	assert.Equal(t, http.StatusForbidden, resp.Status)

	// Strangers get nothing at all.
	strangerToken := testEnv.token(t, "mallory")
	resp = testEnv.call(t, http.MethodGet, url, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestE2E_SnapshotFlow(t *testing.T) {
	token := testEnv.token(t, "alice")
	project, _ := createProject(t, token, "snapshots")

	setSecret(t, token, project.ID, "dev", "/base", "SHARED", "base")
	setSecret(t, token, project.ID, "staging", "/app", "LOCAL", "local")
	addImport(t, token, project.ID, "staging", "/app", "dev", "/base")

	resp := testEnv.call(t, http.MethodPost, "/api/v1/snapshots", token, map[string]string{
		"projectId":   project.ID,
		"environment": "staging",
		"path":        "/app",
	})
	require.Equal(t, http.StatusCreated, resp.Status)

	var snap snapshotDTO
	decode(t, resp, "snapshot", &snap)
	assert.Equal(t, "staging", snap.Environment)
	assert.Equal(t, 2, snap.SecretCount)
	assert.NotEmpty(t, snap.Path)

	resp = testEnv.call(t, http.MethodGet, "/api/v1/snapshots?projectId="+project.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var objects []struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	decode(t, resp, "snapshots", &objects)
	require.NotEmpty(t, objects)
	assert.Greater(t, objects[0].Size, int64(0))
}

func TestE2E_UnauthorizedRequests(t *testing.T) {
	resp := testEnv.call(t, http.MethodGet, "/api/v1/secrets?projectId="+uuid.New().String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = testEnv.call(t, http.MethodGet, "/api/v1/secrets?projectId="+uuid.New().String(), "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}
