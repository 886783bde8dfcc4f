package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps HTTP client for API operations
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(server, token string) *Client {
	// Ensure server has protocol prefix
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}

	return &Client{
		baseURL: strings.TrimSuffix(server, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// request makes an HTTP request to the API
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			if errResp.Detail != "" {
				return fmt.Errorf("API error (%d): %s: %s", resp.StatusCode, errResp.Error, errResp.Detail)
			}
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// Project represents a project in the system
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Environment represents an environment within a project
type Environment struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at"`
}

// Folder represents a secret folder
type Folder struct {
	ID            string `json:"id"`
	EnvironmentID string `json:"environment_id"`
	Path          string `json:"path"`
	CreatedAt     string `json:"created_at"`
}

// Secret represents a decrypted secret value
type Secret struct {
	ID        string `json:"id"`
	FolderID  string `json:"folder_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ResolvedSecret is a secret from the merged import view, with provenance
type ResolvedSecret struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Version    int    `json:"version"`
	SourceEnv  string `json:"source_environment"`
	SourcePath string `json:"source_path"`
	Local      bool   `json:"local"`
}

// EnvMeta is the environment summary attached to an import edge
type EnvMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// SecretImport represents an import edge
type SecretImport struct {
	ID         string  `json:"id"`
	FolderID   string  `json:"folder_id"`
	ImportPath string  `json:"import_path"`
	Position   int     `json:"position"`
	CreatedAt  string  `json:"created_at"`
	ImportEnv  EnvMeta `json:"import_env"`
}

// ImportGroup is the resolved content of one import edge
type ImportGroup struct {
	SecretPath  string           `json:"secret_path"`
	Environment string           `json:"environment"`
	FolderID    string           `json:"folder_id"`
	Secrets     []ResolvedSecret `json:"secrets"`
}

// Snapshot represents a point-in-time snapshot of resolved secrets
type Snapshot struct {
	Path        string `json:"path"`
	Environment string `json:"environment"`
	SecretPath  string `json:"secret_path"`
	SecretCount int    `json:"secret_count"`
	TakenAt     string `json:"taken_at"`
}

// SnapshotObject is a stored snapshot object
type SnapshotObject struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
	ETag         string `json:"etag"`
}

// importTarget mirrors the nested import block of import request bodies
type importTarget struct {
	Environment *string `json:"environment,omitempty"`
	Path        *string `json:"path,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

// scopeQuery builds the projectId/environment/path query string shared by
// most endpoints.
func scopeQuery(projectID, environment, path string) string {
	params := url.Values{}
	params.Add("projectId", projectID)
	if environment != "" {
		params.Add("environment", environment)
	}
	if path != "" {
		params.Add("path", path)
	}
	return params.Encode()
}

// CreateProject creates a project with default environments
func (c *Client) CreateProject(ctx context.Context, name, slug string) (*Project, []Environment, error) {
	var resp struct {
		Project      Project       `json:"project"`
		Environments []Environment `json:"environments"`
	}
	body := map[string]string{"name": name, "slug": slug}
	if err := c.request(ctx, http.MethodPost, "/api/v1/projects", body, &resp); err != nil {
		return nil, nil, err
	}
	return &resp.Project, resp.Environments, nil
}

// ListEnvironments lists a project's environments
func (c *Client) ListEnvironments(ctx context.Context, projectID string) ([]Environment, error) {
	var resp struct {
		Environments []Environment `json:"environments"`
	}
	path := fmt.Sprintf("/api/v1/projects/%s/environments", projectID)
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Environments, nil
}

// CreateFolder creates a folder (and any missing ancestors)
func (c *Client) CreateFolder(ctx context.Context, projectID, environment, path string) (*Folder, error) {
	var resp struct {
		Folder Folder `json:"folder"`
	}
	body := map[string]string{"projectId": projectID, "environment": environment, "path": path}
	if err := c.request(ctx, http.MethodPost, "/api/v1/folders", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Folder, nil
}

// ListFolders lists an environment's folders
func (c *Client) ListFolders(ctx context.Context, projectID, environment string) ([]Folder, error) {
	var resp struct {
		Folders []Folder `json:"folders"`
	}
	path := "/api/v1/folders?" + scopeQuery(projectID, environment, "")
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

// CreateSecret creates a secret
func (c *Client) CreateSecret(ctx context.Context, projectID, environment, path, key, value string) (*Secret, error) {
	var resp struct {
		Secret Secret `json:"secret"`
	}
	body := map[string]string{
		"projectId":   projectID,
		"environment": environment,
		"path":        path,
		"key":         key,
		"value":       value,
	}
	if err := c.request(ctx, http.MethodPost, "/api/v1/secrets", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Secret, nil
}

// ListSecrets lists a folder's own secrets
func (c *Client) ListSecrets(ctx context.Context, projectID, environment, path string) ([]Secret, error) {
	var resp struct {
		Secrets []Secret `json:"secrets"`
	}
	reqPath := "/api/v1/secrets?" + scopeQuery(projectID, environment, path)
	if err := c.request(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Secrets, nil
}

// ResolveSecrets lists the merged view: imports resolved in position order,
// local secrets overriding last
func (c *Client) ResolveSecrets(ctx context.Context, projectID, environment, path string) ([]ResolvedSecret, error) {
	var resp struct {
		Secrets []ResolvedSecret `json:"secrets"`
	}
	reqPath := "/api/v1/secrets?" + scopeQuery(projectID, environment, path) + "&include_imports=true"
	if err := c.request(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Secrets, nil
}

// UpdateSecret updates a secret's value
func (c *Client) UpdateSecret(ctx context.Context, projectID, environment, path, key, value string) (*Secret, error) {
	var resp struct {
		Secret Secret `json:"secret"`
	}
	body := map[string]string{
		"projectId":   projectID,
		"environment": environment,
		"path":        path,
		"value":       value,
	}
	reqPath := fmt.Sprintf("/api/v1/secrets/%s", url.PathEscape(key))
	if err := c.request(ctx, http.MethodPatch, reqPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Secret, nil
}

// DeleteSecret deletes a secret
func (c *Client) DeleteSecret(ctx context.Context, projectID, environment, path, key string) error {
	reqPath := fmt.Sprintf("/api/v1/secrets/%s?%s", url.PathEscape(key), scopeQuery(projectID, environment, path))
	return c.request(ctx, http.MethodDelete, reqPath, nil, nil)
}

// ListSecretVersions lists a secret's version history, newest first
func (c *Client) ListSecretVersions(ctx context.Context, projectID, environment, path, key string) ([]Secret, error) {
	var resp struct {
		Versions []Secret `json:"versions"`
	}
	reqPath := fmt.Sprintf("/api/v1/secrets/%s/versions?%s", url.PathEscape(key), scopeQuery(projectID, environment, path))
	if err := c.request(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// CreateImport appends an import edge to a folder
func (c *Client) CreateImport(ctx context.Context, projectID, environment, path, importEnv, importPath string) (*SecretImport, error) {
	var resp struct {
		SecretImport SecretImport `json:"secretImport"`
	}
	body := map[string]interface{}{
		"projectId":   projectID,
		"environment": environment,
		"path":        path,
		"import": importTarget{
			Environment: &importEnv,
			Path:        &importPath,
		},
	}
	if err := c.request(ctx, http.MethodPost, "/api/v1/secret-imports", body, &resp); err != nil {
		return nil, err
	}
	return &resp.SecretImport, nil
}

// ListImports lists a folder's import edges in position order
func (c *Client) ListImports(ctx context.Context, projectID, environment, path string) ([]SecretImport, error) {
	var resp struct {
		SecretImports []SecretImport `json:"secretImports"`
	}
	reqPath := "/api/v1/secret-imports?" + scopeQuery(projectID, environment, path)
	if err := c.request(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SecretImports, nil
}

// GetImportedSecrets lists the resolved content of each import edge
func (c *Client) GetImportedSecrets(ctx context.Context, projectID, environment, path string) ([]ImportGroup, error) {
	var resp struct {
		Secrets []ImportGroup `json:"secrets"`
	}
	reqPath := "/api/v1/secret-imports/secrets?" + scopeQuery(projectID, environment, path)
	if err := c.request(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Secrets, nil
}

// UpdateImport changes an edge's target and/or position. Nil fields are left
// untouched
func (c *Client) UpdateImport(ctx context.Context, projectID, importID string, importEnv, importPath *string, position *int) (*SecretImport, error) {
	var resp struct {
		SecretImport SecretImport `json:"secretImport"`
	}
	body := map[string]interface{}{
		"projectId": projectID,
		"import": importTarget{
			Environment: importEnv,
			Path:        importPath,
			Position:    position,
		},
	}
	reqPath := fmt.Sprintf("/api/v1/secret-imports/%s", importID)
	if err := c.request(ctx, http.MethodPatch, reqPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp.SecretImport, nil
}

// DeleteImport removes an import edge
func (c *Client) DeleteImport(ctx context.Context, projectID, importID string) (*SecretImport, error) {
	var resp struct {
		SecretImport SecretImport `json:"secretImport"`
	}
	body := map[string]string{"projectId": projectID}
	reqPath := fmt.Sprintf("/api/v1/secret-imports/%s", importID)
	if err := c.request(ctx, http.MethodDelete, reqPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp.SecretImport, nil
}

// TakeSnapshot captures the resolved view of a folder into object storage
func (c *Client) TakeSnapshot(ctx context.Context, projectID, environment, path string) (*Snapshot, error) {
	var resp struct {
		Snapshot Snapshot `json:"snapshot"`
	}
	body := map[string]string{"projectId": projectID, "environment": environment, "path": path}
	if err := c.request(ctx, http.MethodPost, "/api/v1/snapshots", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Snapshot, nil
}

// ListSnapshots lists a project's stored snapshots
func (c *Client) ListSnapshots(ctx context.Context, projectID string) ([]SnapshotObject, error) {
	var resp struct {
		Snapshots []SnapshotObject `json:"snapshots"`
	}
	reqPath := "/api/v1/snapshots?projectId=" + url.QueryEscape(projectID)
	if err := c.request(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}
