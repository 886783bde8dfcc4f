package database

// SQL queries for database operations, organized by entity.

// Project queries
const (
	ProjectInsert = `
		INSERT INTO projects (name, slug)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	ProjectGetByID = `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		WHERE id = $1`

	ProjectGetBySlug = `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		WHERE slug = $1`

	ProjectList = `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		ORDER BY name ASC
		LIMIT $1 OFFSET $2`

	ProjectDelete = `DELETE FROM projects WHERE id = $1`
)

// Environment queries
const (
	EnvironmentInsert = `
		INSERT INTO project_environments (project_id, name, slug, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	EnvironmentGetByID = `
		SELECT id, project_id, name, slug, position, created_at, updated_at
		FROM project_environments
		WHERE id = $1`

	EnvironmentGetBySlug = `
		SELECT id, project_id, name, slug, position, created_at, updated_at
		FROM project_environments
		WHERE project_id = $1 AND slug = $2`

	EnvironmentListByProject = `
		SELECT id, project_id, name, slug, position, created_at, updated_at
		FROM project_environments
		WHERE project_id = $1
		ORDER BY position ASC`
)

// Membership queries
const (
	MembershipInsert = `
		INSERT INTO project_memberships (project_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	MembershipGetRole = `
		SELECT role
		FROM project_memberships
		WHERE project_id = $1 AND user_id = $2`
)

// API key queries
const (
	APIKeyInsert = `
		INSERT INTO api_keys (project_id, name, key_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	APIKeyGetByHash = `
		SELECT id, project_id, name, key_hash, role, created_at
		FROM api_keys
		WHERE key_hash = $1`

	APIKeyDelete = `DELETE FROM api_keys WHERE id = $1`
)

// KMS key queries
const (
	KMSKeyInsert = `
		INSERT INTO kms_keys (project_id, wrapped_key, wrap_iv, wrap_tag, version)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	KMSKeyGetByProject = `
		SELECT id, project_id, wrapped_key, wrap_iv, wrap_tag, version, created_at
		FROM kms_keys
		WHERE project_id = $1`
)

// Secret folder queries
const (
	FolderInsert = `
		INSERT INTO secret_folders (environment_id, path)
		VALUES ($1, $2)
		ON CONFLICT (environment_id, path) DO UPDATE SET updated_at = now()
		RETURNING id, created_at, updated_at`

	FolderGetByID = `
		SELECT id, environment_id, path, created_at, updated_at
		FROM secret_folders
		WHERE id = $1`

	FolderGetByPath = `
		SELECT f.id, f.environment_id, f.path, f.created_at, f.updated_at
		FROM secret_folders f
		JOIN project_environments e ON e.id = f.environment_id
		WHERE e.project_id = $1 AND e.slug = $2 AND f.path = $3`

	FolderListByEnvironment = `
		SELECT id, environment_id, path, created_at, updated_at
		FROM secret_folders
		WHERE environment_id = $1
		ORDER BY path ASC`

	FolderDelete = `DELETE FROM secret_folders WHERE id = $1`
)

// Secret queries
const (
	SecretInsert = `
		INSERT INTO secrets (folder_id, key, ciphertext, iv, tag, blind_index, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING id, created_at, updated_at`

	SecretGetByKey = `
		SELECT id, folder_id, key, ciphertext, iv, tag, blind_index, version, created_at, updated_at
		FROM secrets
		WHERE folder_id = $1 AND key = $2`

	SecretGetByIDForUpdate = `
		SELECT id, folder_id, key, ciphertext, iv, tag, blind_index, version, created_at, updated_at
		FROM secrets
		WHERE id = $1
		FOR UPDATE`

	SecretGetByBlindIndex = `
		SELECT id, folder_id, key, ciphertext, iv, tag, blind_index, version, created_at, updated_at
		FROM secrets
		WHERE folder_id = $1 AND blind_index = $2`

	SecretListByFolder = `
		SELECT id, folder_id, key, ciphertext, iv, tag, blind_index, version, created_at, updated_at
		FROM secrets
		WHERE folder_id = $1
		ORDER BY key ASC`

	SecretUpdateValue = `
		UPDATE secrets
		SET ciphertext = $2, iv = $3, tag = $4, version = version + 1
		WHERE id = $1
		RETURNING version, updated_at`

	SecretDelete = `DELETE FROM secrets WHERE folder_id = $1 AND key = $2`

	SecretVersionInsert = `
		INSERT INTO secret_versions (secret_id, version, ciphertext, iv, tag)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	SecretVersionList = `
		SELECT id, secret_id, version, ciphertext, iv, tag, created_at
		FROM secret_versions
		WHERE secret_id = $1
		ORDER BY version DESC`
)

// Secret import queries. Renumbering statements are bulk updates so that a
// position repair is a single atomic statement inside its transaction.
const (
	ImportInsert = `
		INSERT INTO secret_imports (folder_id, import_env_id, import_path, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	ImportGetByID = `
		SELECT id, folder_id, import_env_id, import_path, position, created_at, updated_at
		FROM secret_imports
		WHERE id = $1`

	ImportListByFolder = `
		SELECT id, folder_id, import_env_id, import_path, position, created_at, updated_at
		FROM secret_imports
		WHERE folder_id = $1
		ORDER BY position ASC`

	ImportListByTarget = `
		SELECT id, folder_id, import_env_id, import_path, position, created_at, updated_at
		FROM secret_imports
		WHERE import_env_id = $1 AND import_path = $2
		ORDER BY folder_id, position ASC`

	ImportLockSiblings = `
		SELECT id FROM secret_imports WHERE folder_id = $1 FOR UPDATE`

	ImportMaxPosition = `
		SELECT COALESCE(MAX(position), 0) FROM secret_imports WHERE folder_id = $1`

	ImportCountByFolder = `
		SELECT COUNT(*) FROM secret_imports WHERE folder_id = $1`

	ImportFindEdge = `
		SELECT id FROM secret_imports
		WHERE folder_id = $1 AND import_env_id = $2 AND import_path = $3`

	ImportShiftDown = `
		UPDATE secret_imports
		SET position = position - 1
		WHERE folder_id = $1 AND position > $2 AND position <= $3`

	ImportShiftUp = `
		UPDATE secret_imports
		SET position = position + 1
		WHERE folder_id = $1 AND position >= $2 AND position < $3`

	ImportShiftAfterDelete = `
		UPDATE secret_imports
		SET position = position - 1
		WHERE folder_id = $1 AND position > $2`

	ImportSetPosition = `
		UPDATE secret_imports
		SET position = $2
		WHERE id = $1
		RETURNING updated_at`

	ImportUpdateTarget = `
		UPDATE secret_imports
		SET import_env_id = $2, import_path = $3
		WHERE id = $1
		RETURNING updated_at`

	ImportDelete = `
		DELETE FROM secret_imports
		WHERE id = $1
		RETURNING id, folder_id, import_env_id, import_path, position, created_at, updated_at`
)
